// Package app holds the application state shared by every view: the
// diagnosis history, the pending queue, the connectivity flag and the
// display language. Views and the capture pipeline change it only through
// the methods here.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/connectivity"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/ml"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/notify"
	"github.com/franckalain/cropdoctor/internal/pipeline"
)

// RecentLimit is the number of diagnoses shown on the home view
const RecentLimit = 3

// Options configures a State
type Options struct {
	Language    models.Language
	DrainDelay  time.Duration
	JPEGQuality int
	FacingMode  camera.FacingMode
	Locator     camera.Locator
	NewID       func() string
}

type State struct {
	db        database.DB
	monitor   *connectivity.Monitor
	knowledge *knowledge.Base
	notifier  *notify.Notifier
	pipeline  *pipeline.Pipeline

	defaultLanguage models.Language
	drainDelay      time.Duration

	mu          sync.RWMutex
	language    models.Language
	facing      camera.FacingMode
	useLocation atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the state together and subscribes it to monitor transitions
func New(db database.DB, model ml.Model, monitor *connectivity.Monitor, kb *knowledge.Base, tr *locale.Translator, opts Options) *State {
	if opts.Language == "" {
		opts.Language = models.English
	}
	if opts.FacingMode == "" {
		opts.FacingMode = camera.FacingEnvironment
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &State{
		db:              db,
		monitor:         monitor,
		knowledge:       kb,
		defaultLanguage: opts.Language,
		drainDelay:      opts.DrainDelay,
		language:        opts.Language,
		facing:          opts.FacingMode,
		ctx:             ctx,
		cancel:          cancel,
	}
	s.useLocation.Store(true)
	s.notifier = notify.New(tr, s.Language, notify.LogSink)

	var locator camera.Locator
	if opts.Locator != nil {
		locator = &switchableLocator{inner: opts.Locator, enabled: &s.useLocation}
	}
	s.pipeline = pipeline.New(db, model, monitor, s.notifier, pipeline.Options{
		JPEGQuality: opts.JPEGQuality,
		Locator:     locator,
		NewID:       opts.NewID,
	})

	monitor.Subscribe(s.onConnectivity)
	return s
}

// Notifier exposes the notifier so transports can attach sinks
func (s *State) Notifier() *notify.Notifier {
	return s.notifier
}

// Close stops background drains and waits for them
func (s *State) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background drain started so far has finished
func (s *State) Wait() {
	s.wg.Wait()
}

func (s *State) Language() models.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *State) SetLanguage(lang models.Language) error {
	if _, err := models.ParseLanguage(string(lang)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
	return nil
}

// UseLocation reports whether captures are tagged with a position
func (s *State) UseLocation() bool {
	return s.useLocation.Load()
}

func (s *State) SetUseLocation(on bool) {
	s.useLocation.Store(on)
}

func (s *State) FacingMode() camera.FacingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facing
}

// ToggleFacingMode switches between the front and back camera
func (s *State) ToggleFacingMode() camera.FacingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facing = s.facing.Toggle()
	return s.facing
}

// OpenCamera acquires cam in the current facing mode. A failure is shown to
// the user and returned.
func (s *State) OpenCamera(ctx context.Context, cam camera.Camera) error {
	if err := cam.Acquire(ctx, s.FacingMode()); err != nil {
		s.notifier.Send(notify.Error, locale.CameraUnavailable)
		return err
	}
	return nil
}

func (s *State) IsOnline() bool {
	return s.monitor.IsOnline()
}

// SetOnline records a connectivity change reported by the platform
func (s *State) SetOnline(online bool) bool {
	return s.monitor.Set(online)
}

// Capture runs a frame through the capture pipeline
func (s *State) Capture(ctx context.Context, frame image.Image) (pipeline.Navigation, error) {
	return s.pipeline.Capture(ctx, frame)
}

// CaptureFrom takes the next frame from cam
func (s *State) CaptureFrom(ctx context.Context, cam camera.Camera) (pipeline.Navigation, error) {
	return s.pipeline.CaptureFrom(ctx, cam)
}

func (s *State) AddDiagnosis(ctx context.Context, d *models.Diagnosis) error {
	return s.db.AddDiagnosis(ctx, d)
}

func (s *State) Diagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	return s.db.GetDiagnosis(ctx, id)
}

// Diagnoses lists the history, newest first. limit <= 0 returns everything.
func (s *State) Diagnoses(ctx context.Context, limit int) ([]*models.Diagnosis, error) {
	return s.db.ListDiagnoses(ctx, limit)
}

// RecentDiagnoses is the short list shown on the home view
func (s *State) RecentDiagnoses(ctx context.Context) ([]*models.Diagnosis, error) {
	return s.db.ListDiagnoses(ctx, RecentLimit)
}

// AddPendingImage queues an image that has no diagnosis yet
func (s *State) AddPendingImage(ctx context.Context, image string) error {
	_, err := s.db.Enqueue(ctx, models.PendingImage{Image: image})
	return err
}

// RemovePendingImage removes every queued copy of image
func (s *State) RemovePendingImage(ctx context.Context, image string) error {
	return s.db.RemovePendingImage(ctx, image)
}

func (s *State) PendingImages(ctx context.Context) ([]models.PendingImage, error) {
	return s.db.PendingImages(ctx)
}

func (s *State) PendingCount(ctx context.Context) (int, error) {
	return s.db.PendingCount(ctx)
}

// ClearStorage empties the pending queue and resets settings. Diagnoses are kept.
func (s *State) ClearStorage(ctx context.Context) error {
	if err := s.db.ClearPending(ctx); err != nil {
		return fmt.Errorf("failed to clear pending images: %w", err)
	}
	s.mu.Lock()
	s.language = s.defaultLanguage
	s.mu.Unlock()
	s.useLocation.Store(true)
	s.notifier.Send(notify.Success, locale.StorageCleared)
	return nil
}

// LookupDisease finds the knowledge entry for a detection label
func (s *State) LookupDisease(label string) (*models.DiseaseInfo, bool) {
	return s.knowledge.Find(label)
}

func (s *State) SearchKnowledge(term string) []models.DiseaseInfo {
	return s.knowledge.Search(term)
}

// ShareLink returns the expert-help message and WhatsApp link for a diagnosis
func (s *State) ShareLink(ctx context.Context, id string) (message, link string, err error) {
	d, err := s.db.GetDiagnosis(ctx, id)
	if err != nil {
		return "", "", err
	}
	return models.ShareMessage(d), models.WhatsAppLink(d), nil
}

// Drain replays the pending queue now, without the reconnect delay
func (s *State) Drain(ctx context.Context) (pipeline.DrainReport, error) {
	return s.pipeline.Drain(ctx)
}

func (s *State) onConnectivity(online bool) {
	if !online {
		s.notifier.Send(notify.Error, locale.WentOffline)
		return
	}

	s.notifier.Send(notify.Success, locale.BackOnline)
	n, err := s.db.PendingCount(s.ctx)
	if err != nil {
		log.Printf("Could not read pending queue: %v", err)
		return
	}
	if n == 0 || s.ctx.Err() != nil {
		return
	}
	s.notifier.SendCount(notify.Info, locale.ProcessingPending, n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drainAfterDelay()
	}()
}

func (s *State) drainAfterDelay() {
	if s.drainDelay > 0 {
		t := time.NewTimer(s.drainDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.ctx.Done():
			return
		}
	}

	report, err := s.pipeline.Drain(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrDrainInProgress):
		return
	case err != nil:
		log.Printf("Drain failed: %v", err)
		return
	}
	if report.Attempted == 0 {
		return
	}
	if report.Failed == 0 {
		s.notifier.Send(notify.Success, locale.PendingProcessed)
	} else {
		s.notifier.SendCount(notify.Error, locale.PendingRemaining, report.Failed)
	}
}

// switchableLocator honours the "use location" setting
type switchableLocator struct {
	inner   camera.Locator
	enabled *atomic.Bool
}

func (l *switchableLocator) Locate(ctx context.Context) (*models.Location, error) {
	if !l.enabled.Load() {
		return nil, nil
	}
	return l.inner.Locate(ctx)
}
