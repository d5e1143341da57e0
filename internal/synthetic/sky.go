package synthetic

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"cleanloop/internal/config"
	"cleanloop/internal/imagestore"
)

// Field is the noiseless sky seen by one mapper: a unit-peak psf centred
// in the image and the dirty image it produces from a set of point
// sources. Every plane of a multi-plane shape holds the same sky.
type Field struct {
	Shape imagestore.Shape
	Psf   []float64
	Dirty []float64
}

// NewField builds the field of Taylor term `term`. Higher terms see the
// sources scaled down by a factor of ten per term.
func NewField(shape imagestore.Shape, sky config.SkyConfig, term int) *Field {
	nx, ny := shape[0], shape[1]
	plane := shape.Plane()
	f := &Field{
		Shape: shape,
		Psf:   make([]float64, shape.Size()),
		Dirty: make([]float64, shape.Size()),
	}

	psf := gaussianPsf(nx, ny, sky.PsfSigma)
	sources := make([]float64, plane)
	scale := math.Pow(0.1, float64(term))
	for _, src := range sky.Sources {
		if src.X < 0 || src.X >= nx || src.Y < 0 || src.Y >= ny {
			continue
		}
		sources[src.Y*nx+src.X] += src.Flux * scale
	}
	dirty := make([]float64, plane)
	Convolve(dirty, sources, psf, nx, ny)

	for off := 0; off < len(f.Psf); off += plane {
		copy(f.Psf[off:off+plane], psf)
		copy(f.Dirty[off:off+plane], dirty)
	}
	return f
}

// gaussianPsf returns a unit-peak gaussian main lobe with a cosine taper,
// which gives it negative sidelobes beyond pi*sigma.
func gaussianPsf(nx, ny int, sigma float64) []float64 {
	cx, cy := nx/2, ny/2
	psf := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			r := math.Hypot(float64(x-cx), float64(y-cy))
			psf[y*nx+x] = math.Exp(-r*r/(2*sigma*sigma)) * math.Cos(r/(2*sigma))
		}
	}
	return psf
}

// Convolve writes the convolution of src with a psf centred on its peak
// into dst. All three are single nx*ny planes; dst must not alias src.
func Convolve(dst, src, psf []float64, nx, ny int) {
	for i := range dst {
		dst[i] = 0
	}
	center := floats.MaxIdx(psf)
	cx, cy := center%nx, center/nx
	for i, v := range src {
		if v == 0 {
			continue
		}
		SubtractPsf(dst, psf, nx, ny, i%nx-cx, i/nx-cy, -v)
	}
}

// SubtractPsf subtracts scale times the psf shifted by (dx, dy) from dst,
// clipping at the image edge.
func SubtractPsf(dst, psf []float64, nx, ny, dx, dy int, scale float64) {
	for y := max(0, dy); y < min(ny, ny+dy); y++ {
		row := y * nx
		prow := (y - dy) * nx
		for x := max(0, dx); x < min(nx, nx+dx); x++ {
			dst[row+x] -= scale * psf[prow+x-dx]
		}
	}
}
