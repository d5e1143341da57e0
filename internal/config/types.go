package config

import (
	"time"

	"cleanloop/internal/api"
)

// CleanloopConfig is the top-level configuration structure for cleanloop.
type CleanloopConfig struct {
	Iteration IterationConfig `yaml:"iteration"`
	Images    []ImageConfig   `yaml:"images"`
	Sync      SyncConfig      `yaml:"sync"`
	Control   ControlConfig   `yaml:"control"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// IterationConfig holds the deconvolution stopping parameters.
type IterationConfig struct {
	Niter          int     `yaml:"niter"`
	CycleNiter     int     `yaml:"cycleniter"`     // 0 means niter
	LoopGain       float64 `yaml:"loopgain"`       // (0, 1]
	Threshold      float64 `yaml:"threshold"`      // global stopping threshold
	CycleFactor    float64 `yaml:"cyclefactor"`    // scales the PSF sidelobe level
	MinPsfFraction float64 `yaml:"minpsffraction"` // lower clamp on the cycle threshold fraction
	MaxPsfFraction float64 `yaml:"maxpsffraction"` // upper clamp on the cycle threshold fraction
	Interactive    bool    `yaml:"interactive"`
}

// Params converts the configuration into controller setup parameters.
func (c IterationConfig) Params() api.IterationParams {
	return api.IterationParams{
		Niter:          c.Niter,
		CycleNiter:     c.CycleNiter,
		LoopGain:       c.LoopGain,
		Threshold:      c.Threshold,
		CycleFactor:    c.CycleFactor,
		MinPsfFraction: c.MinPsfFraction,
		MaxPsfFraction: c.MaxPsfFraction,
		Interactive:    c.Interactive,
	}
}

// ImageConfig describes one imaging field. A field with NTerms > 1 yields one
// mapper per Taylor term.
type ImageConfig struct {
	Name         string    `yaml:"name"`
	Shape        []int     `yaml:"shape"`                  // nx, ny[, nchan, npol]
	NTerms       int       `yaml:"nterms,omitempty"`       // default 1
	NameTemplate string    `yaml:"nameTemplate,omitempty"` // sprig template for artifact names
	Sky          SkyConfig `yaml:"sky,omitempty"`
}

// SkyConfig drives the built-in synthetic gridder used by `cleanloop run`.
type SkyConfig struct {
	PsfSigma float64       `yaml:"psfSigma,omitempty"` // gaussian PSF width in pixels
	Sources  []PointSource `yaml:"sources,omitempty"`
}

// PointSource is a single synthetic point source.
type PointSource struct {
	X    int     `yaml:"x"`
	Y    int     `yaml:"y"`
	Flux float64 `yaml:"flux"`
}

// SyncConfig configures the parallel synchronizer.
type SyncConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// ControlConfig configures the interactive pause/resume backends.
type ControlConfig struct {
	ControlFile  string        `yaml:"controlFile,omitempty"`  // watched YAML file, empty disables
	Prompt       bool          `yaml:"prompt,omitempty"`       // readline prompt while paused
	PollInterval time.Duration `yaml:"pollInterval,omitempty"` // fallback when fsnotify is unavailable
	Debounce     time.Duration `yaml:"debounce,omitempty"`
}

// StorageConfig configures where run summaries are persisted.
type StorageConfig struct {
	Dir string `yaml:"dir,omitempty"` // default: the config directory
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"` // e.g. ":9090", empty disables
}
