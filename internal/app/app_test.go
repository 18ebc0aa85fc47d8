package app

import (
	"context"
	"errors"
	"image"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/connectivity"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/notify"
	"github.com/franckalain/cropdoctor/internal/pipeline"
)

type fakeModel struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *fakeModel) Load(ctx context.Context) error { return nil }

func (m *fakeModel) Predict(ctx context.Context, image string) (*models.DiagnosisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &models.DiagnosisResult{
		Count:      1,
		Detections: []models.Detection{{Label: "Wheat___Rust", Confidence: 0.87, BBox: [4]float64{10, 10, 100, 100}}},
	}, nil
}

func setupState(t *testing.T, online bool, model *fakeModel, opts Options) (*State, *notify.Recorder) {
	t.Helper()
	kb, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default() error: %v", err)
	}
	tr, err := locale.New()
	if err != nil {
		t.Fatalf("locale.New() error: %v", err)
	}
	s := New(database.NewMemoryDB(), model, connectivity.NewMonitor(online), kb, tr, opts)
	t.Cleanup(s.Close)
	rec := &notify.Recorder{}
	s.Notifier().AddSink(rec)
	return s, rec
}

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func pendingCount(t *testing.T, s *State) int {
	t.Helper()
	n, err := s.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("PendingCount() error: %v", err)
	}
	return n
}

func TestBecameOnlineWithEmptyQueue(t *testing.T) {
	s, rec := setupState(t, false, &fakeModel{}, Options{})

	if !s.SetOnline(true) {
		t.Fatal("SetOnline(true) should report a transition")
	}
	s.Wait()

	if got := rec.IDs(); !reflect.DeepEqual(got, []string{locale.BackOnline}) {
		t.Errorf("notifications = %v, want only %s", got, locale.BackOnline)
	}
	if pendingCount(t, s) != 0 {
		t.Error("queue should stay empty")
	}
}

func TestBecameOnlineDrainsQueue(t *testing.T) {
	model := &fakeModel{}
	s, rec := setupState(t, false, model, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		nav, err := s.Capture(ctx, frame())
		if err != nil {
			t.Fatalf("Capture() error: %v", err)
		}
		if nav.Route != pipeline.RouteHistory {
			t.Errorf("offline navigation = %+v", nav)
		}
	}
	if pendingCount(t, s) != 2 {
		t.Fatalf("pending = %d, want 2", pendingCount(t, s))
	}

	s.SetOnline(true)
	s.Wait()

	if pendingCount(t, s) != 0 {
		t.Errorf("pending = %d after reconnect, want 0", pendingCount(t, s))
	}
	list, _ := s.Diagnoses(ctx, 0)
	for _, d := range list {
		if !d.IsProcessed {
			t.Errorf("diagnosis %s not processed after drain", d.ID)
		}
	}
	want := []string{locale.ImageQueued, locale.ImageQueued, locale.BackOnline, locale.ProcessingPending, locale.PendingProcessed}
	if got := rec.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
	notes := rec.All()
	if msg := notes[3].Message; msg != "Processing 2 pending images..." {
		t.Errorf("processing message = %q", msg)
	}
}

func TestDrainFailureKeepsQueue(t *testing.T) {
	model := &fakeModel{}
	s, rec := setupState(t, false, model, Options{})
	s.Capture(context.Background(), frame())

	model.mu.Lock()
	model.err = errors.New("service down")
	model.mu.Unlock()

	s.SetOnline(true)
	s.Wait()

	if pendingCount(t, s) != 1 {
		t.Errorf("pending = %d, want 1", pendingCount(t, s))
	}
	ids := rec.IDs()
	if last := ids[len(ids)-1]; last != locale.PendingRemaining {
		t.Errorf("last notification = %s, want %s", last, locale.PendingRemaining)
	}
}

func TestWentOffline(t *testing.T) {
	s, rec := setupState(t, true, &fakeModel{}, Options{})
	s.SetOnline(false)
	if s.SetOnline(false) {
		t.Error("repeated SetOnline(false) should not be a transition")
	}
	if s.IsOnline() {
		t.Error("IsOnline() = true")
	}
	if got := rec.IDs(); !reflect.DeepEqual(got, []string{locale.WentOffline}) {
		t.Errorf("notifications = %v", got)
	}
}

func TestOnlineCaptureNavigatesToResult(t *testing.T) {
	s, _ := setupState(t, true, &fakeModel{}, Options{
		Locator: camera.FixedLocator{Latitude: 25.4581, Longitude: 78.5795},
	})
	ctx := context.Background()

	nav, err := s.Capture(ctx, frame())
	if err != nil {
		t.Fatalf("Capture() error: %v", err)
	}
	if nav.Route != pipeline.RouteResult {
		t.Fatalf("navigation = %+v", nav)
	}

	d, err := s.Diagnosis(ctx, nav.DiagnosisID)
	if err != nil {
		t.Fatalf("Diagnosis() error: %v", err)
	}
	top, _ := d.TopDetection()
	info, ok := s.LookupDisease(top.Label)
	if !ok || info.Disease != "Wheat___Rust" {
		t.Errorf("LookupDisease(%q) = %v, %v", top.Label, info, ok)
	}

	msg, link, err := s.ShareLink(ctx, nav.DiagnosisID)
	if err != nil {
		t.Fatalf("ShareLink() error: %v", err)
	}
	if !strings.Contains(msg, "Detected: Wheat Rust\nConfidence: 87%") || !strings.Contains(msg, "q=25.4581,78.5795") {
		t.Errorf("share message = %q", msg)
	}
	if !strings.HasPrefix(link, "https://wa.me/?text=") {
		t.Errorf("share link = %q", link)
	}
	if _, _, err := s.ShareLink(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("ShareLink(missing) error = %v", err)
	}
}

func TestUseLocationSetting(t *testing.T) {
	s, _ := setupState(t, false, &fakeModel{}, Options{
		Locator: camera.FixedLocator{Latitude: 1, Longitude: 2},
	})
	s.SetUseLocation(false)
	s.Capture(context.Background(), frame())

	list, _ := s.Diagnoses(context.Background(), 0)
	if list[0].Location != nil {
		t.Errorf("location recorded while disabled: %+v", list[0].Location)
	}
}

func TestSettings(t *testing.T) {
	s, rec := setupState(t, true, &fakeModel{}, Options{})
	ctx := context.Background()

	if err := s.SetLanguage("fr"); err == nil {
		t.Error("SetLanguage(fr) should fail")
	}
	if err := s.SetLanguage(models.Hindi); err != nil {
		t.Fatalf("SetLanguage(hi) error: %v", err)
	}
	s.SetOnline(false)
	if notes := rec.All(); notes[0].Message == "You are offline. Images will be queued and processed when you're back online." {
		t.Error("notification should be in hindi")
	}

	if s.FacingMode() != camera.FacingEnvironment {
		t.Errorf("default facing mode = %s", s.FacingMode())
	}
	if s.ToggleFacingMode() != camera.FacingUser {
		t.Error("ToggleFacingMode() should switch to the front camera")
	}

	s.AddPendingImage(ctx, "img")
	s.AddPendingImage(ctx, "img")
	s.AddPendingImage(ctx, "other")
	if err := s.RemovePendingImage(ctx, "img"); err != nil {
		t.Fatalf("RemovePendingImage() error: %v", err)
	}
	if pendingCount(t, s) != 1 {
		t.Errorf("pending = %d, want 1", pendingCount(t, s))
	}

	s.SetUseLocation(false)
	if err := s.ClearStorage(ctx); err != nil {
		t.Fatalf("ClearStorage() error: %v", err)
	}
	if pendingCount(t, s) != 0 || s.Language() != models.English || !s.UseLocation() {
		t.Error("ClearStorage() should empty the queue and reset settings")
	}
}

func TestOpenCameraFailure(t *testing.T) {
	s, rec := setupState(t, true, &fakeModel{}, Options{})
	cam := camera.NewFileCamera("/nonexistent/frame.jpg")

	err := s.OpenCamera(context.Background(), cam)
	var camErr *camera.Error
	if !errors.As(err, &camErr) {
		t.Fatalf("OpenCamera() error = %v, want *camera.Error", err)
	}
	if got := rec.IDs(); !reflect.DeepEqual(got, []string{locale.CameraUnavailable}) {
		t.Errorf("notifications = %v", got)
	}
}

func TestRecentDiagnoses(t *testing.T) {
	s, _ := setupState(t, false, &fakeModel{}, Options{})
	for i := 0; i < RecentLimit+2; i++ {
		s.Capture(context.Background(), frame())
	}
	recent, err := s.RecentDiagnoses(context.Background())
	if err != nil {
		t.Fatalf("RecentDiagnoses() error: %v", err)
	}
	if len(recent) != RecentLimit {
		t.Errorf("recent = %d, want %d", len(recent), RecentLimit)
	}
}
