package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"time"

	"github.com/franckalain/cropdoctor/internal/models"
)

// DemoConfig holds configuration for the offline demo model
type DemoConfig struct {
	BaseConfig
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	LatencyMS  int     `json:"latency_ms"`
}

// Load loads the demo configuration
func (c *DemoConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "demo", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.Label == "" {
		c.Label = os.Getenv("DEMO_LABEL")
	}
	if c.LatencyMS == 0 {
		if v, err := strconv.Atoi(os.Getenv("DEMO_LATENCY_MS")); err == nil {
			c.LatencyMS = v
		}
	}

	if c.Label == "" {
		c.Label = "Wheat___Rust"
	}
	if c.Confidence == 0 {
		c.Confidence = 0.87
	}
	return nil
}

// DemoModel answers every image with one fixed detection covering the
// centre of the frame. It needs no network access.
type DemoModel struct {
	config DemoConfig
}

// DemoModelFactory implements ModelFactory for the demo model
type DemoModelFactory struct {
	config DemoConfig
}

// NewDemoModelFactory creates a new demo model factory
func NewDemoModelFactory(config DemoConfig) *DemoModelFactory {
	return &DemoModelFactory{config: config}
}

// CreateModel creates a new demo model instance
func (f *DemoModelFactory) CreateModel() (Model, error) {
	return &DemoModel{
		config: f.config,
	}, nil
}

// Load initializes the demo model
func (m *DemoModel) Load(ctx context.Context) error {
	return nil
}

// Predict simulates an inference round trip
func (m *DemoModel) Predict(ctx context.Context, img string) (*models.DiagnosisResult, error) {
	raw, err := base64.StdEncoding.DecodeString(StripDataURIPrefix(img))
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}

	if m.config.LatencyMS > 0 {
		select {
		case <-time.After(time.Duration(m.config.LatencyMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	return &models.DiagnosisResult{
		Count: 1,
		Detections: []models.Detection{{
			Label:      m.config.Label,
			Confidence: m.config.Confidence,
			BBox:       [4]float64{w * 0.1, h * 0.2, w * 0.9, h * 0.8},
		}},
		InferenceMS: 245,
	}, nil
}
