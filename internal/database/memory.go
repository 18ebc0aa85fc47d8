package database

import (
	"context"
	"sync"
	"time"

	"github.com/franckalain/cropdoctor/internal/models"
)

// MemoryDB keeps diagnoses and pending images for the lifetime of the
// process. Every method returns copies so callers cannot mutate stored state.
type MemoryDB struct {
	mu        sync.RWMutex
	diagnoses []*models.Diagnosis // newest first
	byID      map[string]*models.Diagnosis
	pending   []models.PendingImage
	nextID    int64
}

// NewMemoryDB constructs an empty MemoryDB
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		byID: make(map[string]*models.Diagnosis),
	}
}

func (m *MemoryDB) AddDiagnosis(ctx context.Context, d *models.Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID]; ok {
		return ErrDuplicateID
	}
	rec := d.Clone()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.diagnoses = append([]*models.Diagnosis{rec}, m.diagnoses...)
	m.byID[rec.ID] = rec
	return nil
}

func (m *MemoryDB) GetDiagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryDB) ListDiagnoses(ctx context.Context, limit int) ([]*models.Diagnosis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.diagnoses)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Diagnosis, 0, n)
	for _, rec := range m.diagnoses[:n] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemoryDB) AttachResult(ctx context.Context, id string, result *models.DiagnosisResult) error {
	if result == nil {
		return errNilResult
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.IsProcessed {
		return ErrAlreadyProcessed
	}
	rec.Result = result.Clone()
	rec.IsProcessed = true
	return nil
}

func (m *MemoryDB) Enqueue(ctx context.Context, img models.PendingImage) (models.PendingImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	img.ID = m.nextID
	if img.QueuedAt.IsZero() {
		img.QueuedAt = time.Now()
	}
	m.pending = append(m.pending, img)
	return img, nil
}

func (m *MemoryDB) PendingImages(ctx context.Context) ([]models.PendingImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.PendingImage(nil), m.pending...), nil
}

func (m *MemoryDB) PendingCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending), nil
}

func (m *MemoryDB) RemovePendingImage(ctx context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = filterPending(m.pending, func(p models.PendingImage) bool {
		return p.Image != image
	})
	return nil
}

func (m *MemoryDB) RemovePending(ctx context.Context, ids []int64) error {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = filterPending(m.pending, func(p models.PendingImage) bool {
		_, ok := drop[p.ID]
		return !ok
	})
	return nil
}

func (m *MemoryDB) ClearPending(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *MemoryDB) Close() error {
	return nil
}

func filterPending(in []models.PendingImage, keep func(models.PendingImage) bool) []models.PendingImage {
	out := in[:0]
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	// clear the tail so dropped images can be collected
	for i := len(out); i < len(in); i++ {
		in[i] = models.PendingImage{}
	}
	return out
}
