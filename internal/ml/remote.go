package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/franckalain/cropdoctor/internal/models"
)

// RemoteConfig holds configuration for the HTTP inference service
type RemoteConfig struct {
	APIURL  string
	Timeout time.Duration // zero leaves the request unbounded
}

// RemoteModel calls POST {APIURL}/predict once per image. It never retries.
type RemoteModel struct {
	config RemoteConfig
	client *http.Client
}

// RemoteModelFactory implements ModelFactory for the HTTP service
type RemoteModelFactory struct {
	config RemoteConfig
}

// NewRemoteModelFactory creates a new remote model factory
func NewRemoteModelFactory(config RemoteConfig) *RemoteModelFactory {
	return &RemoteModelFactory{config: config}
}

// CreateModel creates a new remote model instance
func (f *RemoteModelFactory) CreateModel() (Model, error) {
	return NewRemoteModel(f.config), nil
}

// NewRemoteModel builds a client for the given service
func NewRemoteModel(config RemoteConfig) *RemoteModel {
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	return &RemoteModel{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Load validates the configuration. The service is not contacted.
func (m *RemoteModel) Load(ctx context.Context) error {
	if m.config.APIURL == "" {
		return fmt.Errorf("remote model: api url is not set")
	}
	log.Printf("Using remote inference service at %s", m.config.APIURL)
	return nil
}

type predictRequest struct {
	Image string `json:"image"`
}

// Predict sends the base64 payload of image to the service
func (m *RemoteModel) Predict(ctx context.Context, image string) (*models.DiagnosisResult, error) {
	body, err := json.Marshal(predictRequest{Image: StripDataURIPrefix(image)})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.APIURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result models.DiagnosisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
