package ml

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/franckalain/cropdoctor/internal/models"
	"google.golang.org/api/option"
)

// GoogleConfig holds configuration for the Google model
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	ModelName       string `json:"model_name"`
}

// Load loads the Google configuration
func (c *GoogleConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "google", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.ModelName == "" {
		c.ModelName = "gemini-pro-vision"
	}

	return nil
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.ModelName)
	return nil
}

const detectionPrompt = `Inspect this crop photo for plant diseases.
Report every diseased region you can see. Labels must use the form
"<Crop>___<Condition>" with underscores instead of spaces, for example
"Wheat___Rust", "Mango___Powdery_Mildew" or "Rice___Blast".

Answer with a JSON object only:
{
	"detections": [
		{"label": "string", "confidence": number between 0 and 1, "bbox": [x1, y1, x2, y2]}
	]
}
Bounding boxes are in pixels of the supplied image. Return an empty list when
the plant looks healthy or no crop is visible.`

// Predict runs the photo through Gemini and converts the answer into a
// DiagnosisResult
func (m *GoogleModel) Predict(ctx context.Context, image string) (*models.DiagnosisResult, error) {
	if m.model == nil {
		return nil, fmt.Errorf("model not loaded")
	}

	imageData, err := base64.StdEncoding.DecodeString(StripDataURIPrefix(image))
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}

	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, genai.Text(detectionPrompt), genai.ImageData("jpeg", imageData))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to call ai: %w", err)}
	}
	elapsed := time.Since(start)

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no response generated")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	result, err := parseDetections(fmt.Sprintf("%v", candidate.Content.Parts[0]))
	if err != nil {
		return nil, err
	}
	result.InferenceMS = float64(elapsed.Milliseconds())
	log.Printf("Vertex AI returned %d detection(s) in %s", result.Count, elapsed)
	return result, nil
}

// parseDetections reads the model's JSON answer, tolerating a ```json fence
func parseDetections(text string) (*models.DiagnosisResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var output struct {
		Detections []models.Detection `json:"detections"`
	}
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w while parsing %s", err, text)
	}

	detections := make([]models.Detection, 0, len(output.Detections))
	for _, d := range output.Detections {
		if d.Label == "" {
			continue
		}
		if d.Confidence < 0 {
			d.Confidence = 0
		} else if d.Confidence > 1 {
			d.Confidence = 1
		}
		detections = append(detections, d)
	}

	return &models.DiagnosisResult{
		Count:      len(detections),
		Detections: detections,
	}, nil
}
