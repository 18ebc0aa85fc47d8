// Package pipeline turns a camera frame into a diagnosis record. Online
// captures are sent for prediction immediately; offline captures, and
// online ones whose prediction fails, are queued and replayed by Drain.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/ml"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/notify"
	"github.com/google/uuid"
)

var (
	// ErrCaptureInProgress is returned to a capture started while another runs
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrDrainInProgress is returned when a drain is already replaying the queue
	ErrDrainInProgress = errors.New("drain already in progress")
)

// EncodeError wraps a failure to encode the captured frame
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode frame: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

type Route string

const (
	RouteResult  Route = "result"
	RouteHistory Route = "history"
)

// Navigation tells the caller which view to show after a capture
type Navigation struct {
	Route       Route  `json:"route"`
	DiagnosisID string `json:"diagnosis_id,omitempty"`
}

// Path renders the navigation as a view path
func (n Navigation) Path() string {
	if n.Route == RouteResult {
		return "/result/" + n.DiagnosisID
	}
	return "/" + string(n.Route)
}

// Store is the part of the database the pipeline writes to
type Store interface {
	database.DiagnosisStore
	database.PendingQueue
}

// Connectivity reports the current online flag
type Connectivity interface {
	IsOnline() bool
}

type Options struct {
	JPEGQuality int            // defaults to 80
	Locator     camera.Locator // optional
	Now         func() time.Time
	NewID       func() string
}

type Pipeline struct {
	store    Store
	model    ml.Model
	conn     Connectivity
	notifier *notify.Notifier

	quality int
	locator camera.Locator
	now     func() time.Time
	newID   func() string

	capturing atomic.Bool
	draining  sync.Mutex
}

func New(store Store, model ml.Model, conn Connectivity, notifier *notify.Notifier, opts Options) *Pipeline {
	p := &Pipeline{
		store:    store,
		model:    model,
		conn:     conn,
		notifier: notifier,
		quality:  opts.JPEGQuality,
		locator:  opts.Locator,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if p.quality == 0 {
		p.quality = 80
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = func() string { return uuid.New().String() }
	}
	return p
}

// EncodeJPEG encodes img as a JPEG data URI
func EncodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", &EncodeError{Err: err}
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Capture runs one frame through the pipeline. At most one capture runs at
// a time; a concurrent call returns ErrCaptureInProgress and changes nothing.
func (p *Pipeline) Capture(ctx context.Context, frame image.Image) (Navigation, error) {
	if !p.capturing.CompareAndSwap(false, true) {
		return Navigation{}, ErrCaptureInProgress
	}
	defer p.capturing.Store(false)
	return p.process(ctx, frame)
}

// CaptureFrom grabs the next frame from cam and runs it through Capture
func (p *Pipeline) CaptureFrom(ctx context.Context, cam camera.Camera) (Navigation, error) {
	if !p.capturing.CompareAndSwap(false, true) {
		return Navigation{}, ErrCaptureInProgress
	}
	defer p.capturing.Store(false)

	frame, err := cam.Frame(ctx)
	if err != nil {
		p.notifier.Send(notify.Error, locale.CaptureFailed)
		return Navigation{}, err
	}
	return p.process(ctx, frame)
}

func (p *Pipeline) process(ctx context.Context, frame image.Image) (Navigation, error) {
	if frame == nil {
		p.notifier.Send(notify.Error, locale.CaptureFailed)
		return Navigation{}, camera.ErrNoFrame
	}
	uri, err := EncodeJPEG(frame, p.quality)
	if err != nil {
		p.notifier.Send(notify.Error, locale.CaptureFailed)
		return Navigation{}, err
	}

	d := &models.Diagnosis{
		ID:        p.newID(),
		ImageURI:  uri,
		Timestamp: p.now(),
		Location:  p.locate(ctx),
	}

	if !p.conn.IsOnline() {
		nav, err := p.queue(ctx, d)
		if err != nil {
			return nav, err
		}
		p.notifier.Send(notify.Info, locale.ImageQueued)
		return nav, nil
	}

	result, err := p.model.Predict(ctx, uri)
	if err != nil {
		log.Printf("Prediction for %s failed, queueing: %v", d.ID, err)
		p.notifier.Send(notify.Error, locale.PredictionFailed)
		return p.queue(ctx, d)
	}

	d.Result = result
	d.IsProcessed = true
	if err := p.store.AddDiagnosis(ctx, d); err != nil {
		return Navigation{}, fmt.Errorf("failed to save diagnosis: %w", err)
	}
	log.Printf("Diagnosis %s processed with %d detection(s)", d.ID, len(result.Detections))
	return Navigation{Route: RouteResult, DiagnosisID: d.ID}, nil
}

// queue stores the image for later and records an unprocessed diagnosis
func (p *Pipeline) queue(ctx context.Context, d *models.Diagnosis) (Navigation, error) {
	_, err := p.store.Enqueue(ctx, models.PendingImage{
		DiagnosisID: d.ID,
		Image:       d.ImageURI,
		QueuedAt:    d.Timestamp,
	})
	if err != nil {
		return Navigation{}, fmt.Errorf("failed to queue image: %w", err)
	}
	if err := p.store.AddDiagnosis(ctx, d); err != nil {
		return Navigation{}, fmt.Errorf("failed to save diagnosis: %w", err)
	}
	return Navigation{Route: RouteHistory}, nil
}

func (p *Pipeline) locate(ctx context.Context) *models.Location {
	if p.locator == nil {
		return nil
	}
	loc, err := p.locator.Locate(ctx)
	if err != nil {
		log.Printf("Location unavailable: %v", err)
		return nil
	}
	return loc // may be nil when location is switched off
}
