package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultAPIURL is the public inference service
const DefaultAPIURL = "https://api.cafri-crop-doctor.com"

// Duration is a time.Duration read from a JSON string such as "3s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `json:"port"`
		StaticDir string `json:"static_dir"`
		Debug     bool   `json:"debug"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"` // empty keeps everything in memory
	} `json:"database"`

	Prediction struct {
		Type    string   `json:"type"` // "remote" or "google"
		APIURL  string   `json:"api_url"`
		Timeout Duration `json:"timeout"` // zero means no client timeout
	} `json:"prediction"`

	Capture struct {
		JPEGQuality int    `json:"jpeg_quality"`
		FacingMode  string `json:"facing_mode"` // "user" or "environment"
	} `json:"capture"`

	Connectivity struct {
		ProbeInterval Duration `json:"probe_interval"`
		DrainDelay    Duration `json:"drain_delay"`
		AssumeOnline  bool     `json:"assume_online"`
	} `json:"connectivity"`

	Language string `json:"language"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads the file at configPath when it exists and falls back to
// defaults otherwise. Environment overrides are applied in both cases.
func Load(configPath string) (*Config, error) {
	config, err := LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Config file %s not found, using defaults", configPath)
		config, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./static"
	}
	if c.Prediction.Type == "" {
		c.Prediction.Type = "remote"
	}
	if c.Prediction.APIURL == "" {
		c.Prediction.APIURL = DefaultAPIURL
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = 80
	}
	if c.Capture.FacingMode == "" {
		c.Capture.FacingMode = "environment"
	}
	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = Duration(10 * time.Second)
	}
	if c.Connectivity.DrainDelay == 0 {
		c.Connectivity.DrainDelay = Duration(3 * time.Second)
	}
	if c.Language == "" {
		c.Language = "en"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CROPDOCTOR_API_URL"); v != "" {
		c.Prediction.APIURL = v
	}
	if v := os.Getenv("CROPDOCTOR_LANGUAGE"); v != "" {
		c.Language = v
	}
	c.Prediction.APIURL = strings.TrimRight(c.Prediction.APIURL, "/")
}

// Validate rejects values the rest of the application cannot work with
func (c *Config) Validate() error {
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture jpeg_quality must be within 1..100, got %d", c.Capture.JPEGQuality)
	}
	switch c.Capture.FacingMode {
	case "user", "environment":
	default:
		return fmt.Errorf("capture facing_mode must be user or environment, got %q", c.Capture.FacingMode)
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity probe_interval must be positive")
	}
	switch c.Language {
	case "en", "hi":
	default:
		return fmt.Errorf("unsupported language %q", c.Language)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("CROPDOCTOR_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
