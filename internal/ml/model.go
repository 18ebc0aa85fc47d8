package ml

import (
	"context"
	"fmt"
	"time"

	"github.com/franckalain/cropdoctor/internal/models"
)

// Model represents a disease detector that can process captured images
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Predict takes an encoded image (data URI or bare base64) and returns
	// the detections found in it
	Predict(ctx context.Context, image string) (*models.DiagnosisResult, error)
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// Options carries the settings shared by every backend
type Options struct {
	APIURL     string
	Timeout    time.Duration
	ConfigPath string // backend specific JSON file
}

// NewModel creates a new model instance based on the model type
func NewModel(modelType string, opts Options) (Model, error) {
	var factory ModelFactory

	switch modelType {
	case "remote":
		factory = NewRemoteModelFactory(RemoteConfig{
			APIURL:  opts.APIURL,
			Timeout: opts.Timeout,
		})
	case "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{
				ConfigPath: opts.ConfigPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		factory = NewGoogleModelFactory(config)
	case "demo":
		config := DemoConfig{
			BaseConfig: BaseConfig{
				ConfigPath: opts.ConfigPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load demo config: %w", err)
		}
		factory = NewDemoModelFactory(config)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
	return factory.CreateModel()
}
