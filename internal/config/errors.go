package config

import (
	"fmt"
	"strings"
)

// ConfigurationError is one problem found in config.yaml.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	Category    string   `json:"category"` // config section: iteration, images, sync, control
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ce.Category, ce.Message)
}

// DetailedError renders the error with its file and suggestions.
func (ce ConfigurationError) DetailedError() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ce.Category, ce.Message)
	if ce.FilePath != "" {
		fmt.Fprintf(&b, "\n  File: %s", ce.FilePath)
	}
	for _, s := range ce.Suggestions {
		fmt.Fprintf(&b, "\n  Hint: %s", s)
	}
	return b.String()
}

// ConfigurationErrorCollection holds every problem found while validating
// one configuration.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

// Error implements the error interface for the collection
func (cec ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return "invalid configuration: " + cec.Errors[0].Error()
	default:
		return fmt.Sprintf("invalid configuration: %s (and %d more)", cec.Errors[0].Error(), len(cec.Errors)-1)
	}
}

// HasErrors returns true if there are any errors in the collection
func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

// Count returns the number of errors in the collection
func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

// Add appends err to the collection.
func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// GetErrorsByCategory returns errors filtered by category
func (cec *ConfigurationErrorCollection) GetErrorsByCategory(category string) []ConfigurationError {
	var filtered []ConfigurationError
	for _, err := range cec.Errors {
		if err.Category == category {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// GetDetailedReport lists every error with its hints, one block per error.
func (cec *ConfigurationErrorCollection) GetDetailedReport() string {
	if len(cec.Errors) == 0 {
		return "No configuration errors to report"
	}

	parts := []string{fmt.Sprintf("Configuration has %d error(s):", len(cec.Errors))}
	for i, err := range cec.Errors {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, err.DetailedError()))
	}
	return strings.Join(parts, "\n")
}

// NewConfigurationErrorCollection creates a new empty error collection
func NewConfigurationErrorCollection() *ConfigurationErrorCollection {
	return &ConfigurationErrorCollection{
		Errors: make([]ConfigurationError, 0),
	}
}
