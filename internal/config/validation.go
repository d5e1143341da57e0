package config

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Validate checks a loaded configuration and collects every problem rather
// than stopping at the first one.
func Validate(cfg CleanloopConfig, filePath string) *ConfigurationErrorCollection {
	errs := NewConfigurationErrorCollection()
	add := func(category, message string, suggestions ...string) {
		errs.Add(ConfigurationError{FilePath: filePath, Category: category, Message: message, Suggestions: suggestions})
	}

	it := cfg.Iteration
	if it.Niter < 0 {
		add("iteration", fmt.Sprintf("niter must be >= 0, got %d", it.Niter))
	}
	if it.LoopGain <= 0 || it.LoopGain > 1 {
		add("iteration", fmt.Sprintf("loopgain must be in (0,1], got %g", it.LoopGain), "typical values are 0.05 to 0.3")
	}
	if it.Threshold < 0 {
		add("iteration", fmt.Sprintf("threshold must be >= 0, got %g", it.Threshold))
	}
	if it.CycleFactor <= 0 {
		add("iteration", fmt.Sprintf("cyclefactor must be > 0, got %g", it.CycleFactor))
	}
	if it.MinPsfFraction < 0 || it.MinPsfFraction > 1 {
		add("iteration", fmt.Sprintf("minpsffraction must be in [0,1], got %g", it.MinPsfFraction))
	}
	if it.MaxPsfFraction < 0 || it.MaxPsfFraction > 1 {
		add("iteration", fmt.Sprintf("maxpsffraction must be in [0,1], got %g", it.MaxPsfFraction))
	}
	if it.MinPsfFraction > it.MaxPsfFraction {
		add("iteration", fmt.Sprintf("minpsffraction (%g) exceeds maxpsffraction (%g)", it.MinPsfFraction, it.MaxPsfFraction))
	}

	seen := make(map[string]bool)
	for i, img := range cfg.Images {
		where := fmt.Sprintf("images[%d]", i)
		if err := ValidateEntityName(img.Name, "image"); err != nil {
			add("images", fmt.Sprintf("%s: %v", where, err))
		} else if seen[img.Name] {
			add("images", fmt.Sprintf("%s: duplicate image name %q", where, img.Name))
		}
		seen[img.Name] = true

		if len(img.Shape) < 2 {
			add("images", fmt.Sprintf("%s: shape needs at least nx and ny, got %v", where, img.Shape))
		}
		for _, n := range img.Shape {
			if n <= 0 {
				add("images", fmt.Sprintf("%s: shape dimensions must be positive, got %v", where, img.Shape))
				break
			}
		}
		if _, err := template.New("name").Funcs(sprig.TxtFuncMap()).Parse(img.NameTemplate); err != nil {
			add("images", fmt.Sprintf("%s: invalid nameTemplate: %v", where, err))
		}
		for j, src := range img.Sky.Sources {
			if len(img.Shape) >= 2 && (src.X < 0 || src.Y < 0 || src.X >= img.Shape[0] || src.Y >= img.Shape[1]) {
				add("images", fmt.Sprintf("%s.sky.sources[%d]: (%d,%d) outside image", where, j, src.X, src.Y))
			}
		}
	}

	if cfg.Sync.Workers < 1 {
		add("sync", fmt.Sprintf("workers must be >= 1, got %d", cfg.Sync.Workers))
	}
	if cfg.Sync.Timeout <= 0 {
		add("sync", fmt.Sprintf("timeout must be positive, got %s", cfg.Sync.Timeout), "use a duration such as 30s")
	}

	return errs
}

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateEntityName validates that an entity name follows proper conventions
func ValidateEntityName(name, entityType string) error {
	if err := ValidateRequired("name", name, entityType); err != nil {
		return err
	}

	if len(name) > 100 {
		return ValidationError{
			Field:   "name",
			Value:   name,
			Message: "must not exceed 100 characters",
		}
	}

	if strings.ContainsAny(name, " /\\") {
		return ValidationError{
			Field:   "name",
			Value:   name,
			Message: "cannot contain spaces or path separators",
		}
	}

	return nil
}
