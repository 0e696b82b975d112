package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"warden/pkg/logging"
)

const (
	userConfigDir  = ".config/warden"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/warden, panicking only when
// the home directory cannot be determined at all.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory. A missing
// config.yaml yields the defaults; a malformed or invalid one is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("Config", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config at %s: %w", configFilePath, err)
	}

	logging.Info("Config", "Loaded configuration from %s", configFilePath)
	return config, nil
}
