package imagestore

import (
	"fmt"
	"strings"
)

// Shape is an image shape, x fastest: [nx, ny, nchan, npol]. Only nx and ny
// are required.
type Shape []int

// Size is the total number of pixels.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Plane is nx*ny, the size of one channel/polarization plane.
func (s Shape) Plane() int {
	if len(s) < 2 {
		return s.Size()
	}
	return s[0] * s[1]
}

// Equal reports whether two shapes are identical.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Validate checks that the shape has at least two positive dimensions.
func (s Shape) Validate() error {
	if len(s) < 2 {
		return fmt.Errorf("shape %v needs at least nx and ny", []int(s))
	}
	for _, d := range s {
		if d <= 0 {
			return fmt.Errorf("shape %v has a non-positive dimension", []int(s))
		}
	}
	return nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// Image is one pixel grid with its name and shape.
type Image struct {
	Name   string
	Shape  Shape
	Pixels []float64
}

func newImage(name string, shape Shape) *Image {
	return &Image{
		Name:   name,
		Shape:  append(Shape(nil), shape...),
		Pixels: make([]float64, shape.Size()),
	}
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	return &Image{
		Name:   im.Name,
		Shape:  append(Shape(nil), im.Shape...),
		Pixels: append([]float64(nil), im.Pixels...),
	}
}
