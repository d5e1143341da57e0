package config

import "time"

const (
	DefaultLoopGain       = 0.1
	DefaultCycleFactor    = 1.0
	DefaultMinPsfFraction = 0.1
	DefaultMaxPsfFraction = 0.8

	DefaultWorkers      = 1
	DefaultSyncTimeout  = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultDebounce     = 200 * time.Millisecond

	DefaultNameTemplate = `{{ .Name }}{{ if gt .NTerms 1 }}.tt{{ .Term }}{{ end }}.{{ .Kind }}`
	DefaultPsfSigma     = 1.5
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() CleanloopConfig {
	return CleanloopConfig{
		Iteration: IterationConfig{
			LoopGain:       DefaultLoopGain,
			CycleFactor:    DefaultCycleFactor,
			MinPsfFraction: DefaultMinPsfFraction,
			MaxPsfFraction: DefaultMaxPsfFraction,
		},
		Sync: SyncConfig{
			Workers: DefaultWorkers,
			Timeout: DefaultSyncTimeout,
		},
		Control: ControlConfig{
			PollInterval: DefaultPollInterval,
			Debounce:     DefaultDebounce,
		},
	}
}

// applyImageDefaults fills per-image defaults that cannot be expressed in
// GetDefaultConfig because the image list comes from the file.
func applyImageDefaults(cfg *CleanloopConfig) {
	for i := range cfg.Images {
		img := &cfg.Images[i]
		if img.NTerms <= 0 {
			img.NTerms = 1
		}
		if img.NameTemplate == "" {
			img.NameTemplate = DefaultNameTemplate
		}
		if img.Sky.PsfSigma <= 0 {
			img.Sky.PsfSigma = DefaultPsfSigma
		}
	}
}

// normalizeIteration mirrors the imager's parameter checks: a cycle cap of
// zero, negative, or above niter means "no cap beyond niter".
func normalizeIteration(it *IterationConfig) {
	if it.Niter > 0 && (it.CycleNiter <= 0 || it.CycleNiter > it.Niter) {
		it.CycleNiter = it.Niter
	}
}
