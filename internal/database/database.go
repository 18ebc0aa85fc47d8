package database

import (
	"context"
	"errors"

	"github.com/franckalain/cropdoctor/internal/models"
)

var (
	// ErrNotFound is returned when no diagnosis has the requested id
	ErrNotFound = errors.New("diagnosis not found")
	// ErrAlreadyProcessed is returned when a result is attached twice
	ErrAlreadyProcessed = errors.New("diagnosis already processed")
	// ErrDuplicateID is returned when a diagnosis id is reused
	ErrDuplicateID = errors.New("diagnosis id already exists")

	errNilResult = errors.New("cannot attach a nil result")
)

// DiagnosisStore keeps diagnoses most recent first. Records are never deleted.
type DiagnosisStore interface {
	AddDiagnosis(ctx context.Context, d *models.Diagnosis) error
	GetDiagnosis(ctx context.Context, id string) (*models.Diagnosis, error)
	// ListDiagnoses returns up to limit records, newest first. limit <= 0 returns all.
	ListDiagnoses(ctx context.Context, limit int) ([]*models.Diagnosis, error)
	// AttachResult stores the result and marks the diagnosis processed
	AttachResult(ctx context.Context, id string, result *models.DiagnosisResult) error
}

// PendingQueue is the FIFO of images captured while they could not be sent
type PendingQueue interface {
	// Enqueue appends an image and returns the stored entry with its ID set
	Enqueue(ctx context.Context, img models.PendingImage) (models.PendingImage, error)
	PendingImages(ctx context.Context) ([]models.PendingImage, error)
	PendingCount(ctx context.Context) (int, error)
	// RemovePendingImage drops every entry whose image equals image
	RemovePendingImage(ctx context.Context, image string) error
	// RemovePending drops the entries with the given IDs in a single step
	RemovePending(ctx context.Context, ids []int64) error
	ClearPending(ctx context.Context) error
}

// DB is the full storage layer used by the application
type DB interface {
	DiagnosisStore
	PendingQueue
	Close() error
}

// Open returns a SQLite database for a non-empty path and an in-memory
// store otherwise
func Open(path string) (DB, error) {
	if path == "" {
		return NewMemoryDB(), nil
	}
	return NewSQLiteDB(path)
}
