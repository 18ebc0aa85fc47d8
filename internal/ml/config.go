package ml

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// BaseConfig provides the file lookup shared by backend configurations
type BaseConfig struct {
	ConfigPath string
}

// LoadConfig fills config from configPath, then from config/<name>.json.
// When neither file is readable the caller falls back to environment
// variables. A file that exists but cannot be parsed is an error.
func (c *BaseConfig) LoadConfig(configPath string, name string, config interface{}) error {
	candidates := []string{filepath.Join("config", name+".json")}
	if configPath != "" {
		candidates = append([]string{configPath}, candidates...)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Printf("Loaded %s configuration from file: %s", name, path)
		return nil
	}

	log.Printf("Using environment variables for %s configuration", name)
	return nil
}
