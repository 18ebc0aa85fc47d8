package models

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Detection is a single labelled region returned by the inference service
type Detection struct {
	Label      string     `json:"label"`      // "<Crop>___<Condition>"
	Confidence float64    `json:"confidence"` // 0..1
	BBox       [4]float64 `json:"bbox"`       // x1, y1, x2, y2 in source pixels
}

// DiagnosisResult is the payload returned by the prediction endpoint.
// Count is expected to equal len(Detections) but readers must not rely on it.
type DiagnosisResult struct {
	Count       int         `json:"count"`
	Detections  []Detection `json:"detections"`
	InferenceMS float64     `json:"inference_ms"`
}

// Clone returns a deep copy, or nil for a nil result
func (r *DiagnosisResult) Clone() *DiagnosisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Detections = append([]Detection(nil), r.Detections...)
	return &c
}

// Location is a GPS fix captured alongside an image
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String renders the location with four decimal places
func (l Location) String() string {
	return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
}

// MapsURL returns a Google Maps link for the location
func (l Location) MapsURL() string {
	return fmt.Sprintf("https://maps.google.com/?q=%v,%v", l.Latitude, l.Longitude)
}

// Diagnosis is one captured image and, once processed, its result
type Diagnosis struct {
	ID          string           `json:"id"`
	ImageURI    string           `json:"image_uri"`
	Result      *DiagnosisResult `json:"result,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Location    *Location        `json:"location,omitempty"`
	IsProcessed bool             `json:"is_processed"`
}

// TopDetection returns the first detection in service order
func (d *Diagnosis) TopDetection() (Detection, bool) {
	if d.Result == nil || len(d.Result.Detections) == 0 {
		return Detection{}, false
	}
	return d.Result.Detections[0], true
}

// Clone returns a deep copy so stores can hand out records safely
func (d *Diagnosis) Clone() *Diagnosis {
	c := *d
	c.Result = d.Result.Clone()
	if d.Location != nil {
		l := *d.Location
		c.Location = &l
	}
	return &c
}

// PendingImage is a captured image waiting to be submitted.
// DiagnosisID links it back to the unprocessed record created at capture time.
// ID is assigned by the queue and identifies the entry even when the same
// image is queued twice.
type PendingImage struct {
	ID          int64     `json:"id"`
	DiagnosisID string    `json:"diagnosis_id"`
	Image       string    `json:"image"`
	QueuedAt    time.Time `json:"queued_at"`
}

// DisplayName turns a label like "Wheat___Rust" into "Wheat Rust"
func DisplayName(label string) string {
	return strings.ReplaceAll(label, "___", " ")
}

// ConfidencePercent rounds a 0..1 confidence to a whole percentage
func ConfidencePercent(confidence float64) int {
	return int(math.Round(confidence * 100))
}

// ShareMessage builds the expert-help text for a diagnosis
func ShareMessage(d *Diagnosis) string {
	var b strings.Builder
	b.WriteString("I need help with a crop disease.")
	if top, ok := d.TopDetection(); ok {
		fmt.Fprintf(&b, "\n\nDetected: %s\nConfidence: %d%%", DisplayName(top.Label), ConfidencePercent(top.Confidence))
	}
	if d.Location != nil {
		fmt.Fprintf(&b, "\n\nLocation: %s", d.Location.MapsURL())
	}
	return b.String()
}

// WhatsAppLink wraps ShareMessage in a wa.me deep link
func WhatsAppLink(d *Diagnosis) string {
	escaped := strings.ReplaceAll(url.QueryEscape(ShareMessage(d)), "+", "%20")
	return "https://wa.me/?text=" + escaped
}
