package imagestore

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cleanloop/internal/api"
	"cleanloop/pkg/logging"
)

// ImageStore holds the artifact set of one mapper: psf, residual, model,
// weight and restored image.
//
// Allocation is staged. EnsurePsf creates psf and weight; EnsureResidual
// requires both. The model and the restored image can only be created once
// psf or residual has been normalized at least once.
type ImageStore struct {
	mu sync.RWMutex

	name  string
	shape Shape
	names map[api.ArtifactKind]string
	eps   float64

	psf      *Image
	residual *Image
	model    *Image
	weight   *Image
	restored *Image

	psfNormalized      bool
	residualNormalized bool
	normalizedOnce     bool
	modelDivided       bool

	locks map[api.ArtifactKind]bool
}

// Option configures an ImageStore.
type Option func(*ImageStore)

// WithArtifactNames sets per-artifact names, usually rendered from a name template.
func WithArtifactNames(names map[api.ArtifactKind]string) Option {
	return func(s *ImageStore) {
		for k, v := range names {
			s.names[k] = v
		}
	}
}

// WithEpsilon sets the weight floor used by normalization.
func WithEpsilon(eps float64) Option {
	return func(s *ImageStore) {
		s.eps = eps
	}
}

// New creates an empty store. No artifact is allocated yet.
func New(name string, shape Shape, opts ...Option) (*ImageStore, error) {
	if err := shape.Validate(); err != nil {
		return nil, api.NewInvalidParameterError("shape", []int(shape), err.Error())
	}
	s := &ImageStore{
		name:  name,
		shape: append(Shape(nil), shape...),
		names: make(map[api.ArtifactKind]string),
		eps:   DefaultEpsilon,
		locks: make(map[api.ArtifactKind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the image name.
func (s *ImageStore) Name() string { return s.name }

// Shape returns a copy of the image shape.
func (s *ImageStore) Shape() Shape { return append(Shape(nil), s.shape...) }

// ArtifactName returns the configured name of an artifact, defaulting to name.kind.
func (s *ImageStore) ArtifactName(kind api.ArtifactKind) string {
	if n, ok := s.names[kind]; ok {
		return n
	}
	return fmt.Sprintf("%s.%s", s.name, kind)
}

// EnsurePsf allocates psf and weight if they do not exist yet.
func (s *ImageStore) EnsurePsf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.psf == nil {
		s.psf = newImage(s.ArtifactName(api.ArtifactPsf), s.shape)
		logging.Debug("ImageStore", "Allocated %s %s", s.psf.Name, s.shape)
	}
	if s.weight == nil {
		s.weight = newImage(s.ArtifactName(api.ArtifactWeight), s.shape)
	}
}

// EnsureResidual allocates the residual. psf and weight must exist first.
func (s *ImageStore) EnsureResidual() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.weight == nil {
		return api.NewNotAllocatedError(s.name, api.ArtifactWeight)
	}
	if s.psf == nil {
		return api.NewNotAllocatedError(s.name, api.ArtifactPsf)
	}
	if s.residual == nil {
		s.residual = newImage(s.ArtifactName(api.ArtifactResidual), s.shape)
		logging.Debug("ImageStore", "Allocated %s %s", s.residual.Name, s.shape)
	}
	return nil
}

// EnsureModel allocates an all-zero model after the first normalization pass.
func (s *ImageStore) EnsureModel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		return nil
	}
	if !s.normalizedOnce {
		return api.NewInvalidStateError("EnsureModel", "unnormalized")
	}
	s.model = newImage(s.ArtifactName(api.ArtifactModel), s.shape)
	return nil
}

// AllocateRestoredImage creates the restored image. Repeated calls are no-ops.
func (s *ImageStore) AllocateRestoredImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restored != nil {
		return nil
	}
	if !s.normalizedOnce {
		return api.NewInvalidStateError("AllocateRestoredImage", "unnormalized")
	}
	s.restored = newImage(s.ArtifactName(api.ArtifactRestored), s.shape)
	return nil
}

// DoImagesExist reports whether psf, residual and weight all exist.
func (s *ImageStore) DoImagesExist() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.psf != nil && s.residual != nil && s.weight != nil
}

// DoesModelImageExist reports whether the model has been created.
func (s *ImageStore) DoesModelImageExist() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

func (s *ImageStore) artifact(kind api.ArtifactKind) (*Image, error) {
	var im *Image
	switch kind {
	case api.ArtifactPsf:
		im = s.psf
	case api.ArtifactResidual:
		im = s.residual
	case api.ArtifactModel:
		im = s.model
	case api.ArtifactWeight:
		im = s.weight
	case api.ArtifactRestored:
		im = s.restored
	default:
		return nil, api.NewInvalidParameterError("artifact", kind, "unknown artifact kind")
	}
	if im == nil {
		return nil, api.NewNotAllocatedError(s.name, kind)
	}
	return im, nil
}

// Artifact returns a handle to the named artifact.
func (s *ImageStore) Artifact(kind api.ArtifactKind) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact(kind)
}

func (s *ImageStore) Psf() (*Image, error)      { return s.Artifact(api.ArtifactPsf) }
func (s *ImageStore) Residual() (*Image, error) { return s.Artifact(api.ArtifactResidual) }
func (s *ImageStore) Model() (*Image, error)    { return s.Artifact(api.ArtifactModel) }
func (s *ImageStore) Weight() (*Image, error)   { return s.Artifact(api.ArtifactWeight) }
func (s *ImageStore) Image() (*Image, error)    { return s.Artifact(api.ArtifactRestored) }

// Snapshot returns a copy of the artifact's pixels.
func (s *ImageStore) Snapshot(kind api.ArtifactKind) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	im, err := s.artifact(kind)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), im.Pixels...), nil
}

func (s *ImageStore) markWritten(kind api.ArtifactKind) {
	switch kind {
	case api.ArtifactPsf:
		s.psfNormalized = false
	case api.ArtifactResidual:
		s.residualNormalized = false
	case api.ArtifactModel:
		s.modelDivided = false
	}
}

// Replace overwrites an allocated artifact's pixels. Writing psf or residual
// marks that image as unnormalized again. The weight is always written
// together with one of them, so it does not reset either flag on its own.
func (s *ImageStore) Replace(kind api.ArtifactKind, pixels []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, err := s.artifact(kind)
	if err != nil {
		return err
	}
	if len(pixels) != len(im.Pixels) {
		return api.NewInvalidParameterError("pixels", len(pixels), fmt.Sprintf("%s expects %d pixels", im.Name, len(im.Pixels)))
	}
	copy(im.Pixels, pixels)
	s.markWritten(kind)
	return nil
}

// Update edits an allocated artifact in place under the store lock. It is
// meant for minor-cycle updates, which work on normalized images, so the
// normalization flags are left as they are.
func (s *ImageStore) Update(kind api.ArtifactKind, fn func(pixels []float64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, err := s.artifact(kind)
	if err != nil {
		return err
	}
	fn(im.Pixels)
	return nil
}

// Accumulate adds pixels into an allocated artifact.
func (s *ImageStore) Accumulate(kind api.ArtifactKind, pixels []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, err := s.artifact(kind)
	if err != nil {
		return err
	}
	if len(pixels) != len(im.Pixels) {
		return api.NewInvalidParameterError("pixels", len(pixels), fmt.Sprintf("%s expects %d pixels", im.Name, len(im.Pixels)))
	}
	floats.Add(im.Pixels, pixels)
	s.markWritten(kind)
	return nil
}

// Zero clears an allocated artifact.
func (s *ImageStore) Zero(kind api.ArtifactKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, err := s.artifact(kind)
	if err != nil {
		return err
	}
	for i := range im.Pixels {
		im.Pixels[i] = 0
	}
	s.markWritten(kind)
	return nil
}

func (s *ImageStore) divide(kind api.ArtifactKind, done *bool) error {
	if *done {
		return nil
	}
	im, err := s.artifact(kind)
	if err != nil {
		return err
	}
	if s.weight == nil {
		return api.NewNotAllocatedError(s.name, api.ArtifactWeight)
	}
	Normalize(im.Pixels, im.Pixels, s.weight.Pixels, s.eps)
	*done = true
	s.normalizedOnce = true
	return nil
}

// DividePsfByWeight normalizes the psf. It is a no-op until psf or weight is written again.
func (s *ImageStore) DividePsfByWeight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.divide(api.ArtifactPsf, &s.psfNormalized)
}

// DivideResidualByWeight normalizes the residual. It is a no-op until residual or weight is written again.
func (s *ImageStore) DivideResidualByWeight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.divide(api.ArtifactResidual, &s.residualNormalized)
}

// NormalizeByWeight divides every allocated accumulated image (psf, residual)
// by the weight with the epsilon floor.
func (s *ImageStore) NormalizeByWeight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.weight == nil {
		return api.NewNotAllocatedError(s.name, api.ArtifactWeight)
	}
	if s.psf != nil {
		if err := s.divide(api.ArtifactPsf, &s.psfNormalized); err != nil {
			return err
		}
	}
	if s.residual != nil {
		if err := s.divide(api.ArtifactResidual, &s.residualNormalized); err != nil {
			return err
		}
	}
	return nil
}

// IsNormalized reports whether the given accumulated artifact is currently normalized.
func (s *ImageStore) IsNormalized(kind api.ArtifactKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case api.ArtifactPsf:
		return s.psfNormalized
	case api.ArtifactResidual:
		return s.residualNormalized
	default:
		return true
	}
}

// DivideModelByWeight divides the model by the unit-peak weight response
// before it is sent out for prediction. A missing model is not an error.
func (s *ImageStore) DivideModelByWeight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil || s.modelDivided {
		return nil
	}
	if s.weight == nil {
		return api.NewNotAllocatedError(s.name, api.ArtifactWeight)
	}
	resp := make([]float64, len(s.weight.Pixels))
	normalizedResponse(resp, s.weight.Pixels)
	Normalize(s.model.Pixels, s.model.Pixels, resp, s.eps)
	s.modelDivided = true
	return nil
}

// MultiplyModelByWeight undoes DivideModelByWeight.
func (s *ImageStore) MultiplyModelByWeight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil || !s.modelDivided {
		return nil
	}
	resp := make([]float64, len(s.weight.Pixels))
	normalizedResponse(resp, s.weight.Pixels)
	floats.Mul(s.model.Pixels, resp)
	s.modelDivided = false
	return nil
}

// PeakResidual returns max |residual|.
func (s *ImageStore) PeakResidual() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.residual == nil {
		return 0, api.NewNotAllocatedError(s.name, api.ArtifactResidual)
	}
	return floats.Norm(s.residual.Pixels, math.Inf(1)), nil
}

// ModelFlux returns the summed model flux. A missing model has zero flux.
func (s *ImageStore) ModelFlux() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return 0
	}
	return floats.Sum(s.model.Pixels)
}

// ResidualStats returns the mean and standard deviation of the residual.
func (s *ImageStore) ResidualStats() (mean, stddev float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.residual == nil {
		return 0, 0, api.NewNotAllocatedError(s.name, api.ArtifactResidual)
	}
	mean, stddev = stat.MeanStdDev(s.residual.Pixels, nil)
	return mean, stddev, nil
}

// PsfSidelobe returns the largest |psf| outside the main lobe, relative to
// the psf peak. The main lobe is the square box around the peak whose
// half-width is the distance along x to the first non-positive pixel.
// Only the first plane is inspected.
func (s *ImageStore) PsfSidelobe() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.psf == nil {
		return 0, api.NewNotAllocatedError(s.name, api.ArtifactPsf)
	}
	return sidelobe(s.psf.Pixels[:s.shape.Plane()], s.shape[0], s.shape[1]), nil
}

func sidelobe(plane []float64, nx, ny int) float64 {
	peakIdx := floats.MaxIdx(plane)
	peak := plane[peakIdx]
	if peak <= 0 {
		return 0
	}
	px, py := peakIdx%nx, peakIdx/nx

	radius := 0
	for x := px + 1; x < nx && plane[py*nx+x] > 0; x++ {
		radius = x - px
	}
	radius++

	worst := 0.0
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if abs(x-px) < radius && abs(y-py) < radius {
				continue
			}
			worst = math.Max(worst, math.Abs(plane[y*nx+x]))
		}
	}
	return worst / peak
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Lock marks an artifact as held for exclusive writing.
func (s *ImageStore) Lock(kind api.ArtifactKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[kind] = true
}

// IsLocked reports whether an artifact is held.
func (s *ImageStore) IsLocked(kind api.ArtifactKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[kind]
}

// ReleaseLocks drops every hold. Safe to call when nothing is locked.
func (s *ImageStore) ReleaseLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.locks)
	clear(s.locks)
	return n
}
