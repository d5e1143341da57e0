package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cleanloop/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/cleanloop"
	configFileName = "config.yaml"
)

// GetUserConfigDir returns ~/.config/cleanloop.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

func GetDefaultConfigPathOrPanic() string {
	dir, err := GetUserConfigDir()
	if err != nil {
		panic(err)
	}
	return dir
}

// LoadConfig loads config.yaml from configPath over the defaults, applies
// per-image defaults and normalization, and validates the result.
func LoadConfig(configPath string) (CleanloopConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "Error loading config.yaml from %s: %s", configFilePath, err)
			return CleanloopConfig{}, err
		}
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return CleanloopConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	applyImageDefaults(&config)
	normalizeIteration(&config.Iteration)
	if config.Storage.Dir == "" {
		config.Storage.Dir = configPath
	}

	if errs := Validate(config, configFilePath); errs.HasErrors() {
		return CleanloopConfig{}, errs
	}
	return config, nil
}
