package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/InsulaLabs/nodekeeper/chain"
	"gopkg.in/yaml.v3"
)

const SettingsFileName = "settings.yaml"

var ErrSettingsUnmarshallable = errors.New("settings file is unmarshallable")

// Settings are the front end's persisted choices, separate from the node
// server configuration.
type Settings struct {
	DisplayName          string     `yaml:"displayName"`
	ChainType            chain.Type `yaml:"chainType"`
	UseEmbeddedNode      bool       `yaml:"useEmbeddedNode"`
	StatusIntervalMillis int        `yaml:"statusIntervalMillis"`
}

func DefaultSettings() Settings {
	return Settings{
		DisplayName:          "Default",
		ChainType:            chain.Mainnet,
		UseEmbeddedNode:      true,
		StatusIntervalMillis: 1000,
	}
}

// LoadSettings returns the defaults when the file is absent. A file that is
// present but cannot be parsed is an error.
func LoadSettings(settingsFile string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(settingsFile)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings %s: %w", settingsFile, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("%w: %s: %v", ErrSettingsUnmarshallable, settingsFile, err)
	}
	if s.StatusIntervalMillis <= 0 {
		s.StatusIntervalMillis = DefaultSettings().StatusIntervalMillis
	}
	return s, nil
}

func SaveSettings(settingsFile string, s Settings) error {
	yamlData, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings to YAML: %w", err)
	}

	dir := filepath.Dir(settingsFile)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for settings file %s: %w", settingsFile, err)
		}
	}

	if err := os.WriteFile(settingsFile, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write settings to %s: %w", settingsFile, err)
	}
	return nil
}
