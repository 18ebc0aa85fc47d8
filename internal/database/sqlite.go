package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/franckalain/cropdoctor/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteDB implements the DB interface on top of modernc.org/sqlite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// AddDiagnosis inserts a diagnosis ahead of every existing one
func (s *SQLiteDB) AddDiagnosis(ctx context.Context, d *models.Diagnosis) error {
	query := `
		INSERT INTO diagnoses (
			id, image_uri, result, captured_at, latitude, longitude, is_processed
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := encodeResult(d.Result)
	if err != nil {
		return err
	}
	var lat, lng sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: d.Location.Longitude, Valid: true}
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.ImageURI, result, ts.UnixNano(), lat, lng, d.IsProcessed,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateID
	}
	return err
}

const diagnosisColumns = `id, image_uri, result, captured_at, latitude, longitude, is_processed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row rowScanner) (*models.Diagnosis, error) {
	var (
		d         models.Diagnosis
		result    sql.NullString
		captured  int64
		lat, lng  sql.NullFloat64
		processed bool
	)
	if err := row.Scan(&d.ID, &d.ImageURI, &result, &captured, &lat, &lng, &processed); err != nil {
		return nil, err
	}
	d.Timestamp = time.Unix(0, captured)
	d.IsProcessed = processed
	if lat.Valid && lng.Valid {
		d.Location = &models.Location{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if result.Valid {
		var r models.DiagnosisResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode stored result for %s: %w", d.ID, err)
		}
		d.Result = &r
	}
	return &d, nil
}

// GetDiagnosis retrieves a diagnosis by id
func (s *SQLiteDB) GetDiagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses WHERE id = ?`

	d, err := scanDiagnosis(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDiagnoses retrieves the most recent diagnoses
func (s *SQLiteDB) ListDiagnoses(ctx context.Context, limit int) ([]*models.Diagnosis, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses ORDER BY seq DESC LIMIT ?`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*models.Diagnosis{}
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// AttachResult stores a prediction result and flips is_processed
func (s *SQLiteDB) AttachResult(ctx context.Context, id string, result *models.DiagnosisResult) error {
	if result == nil {
		return errNilResult
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE diagnoses SET result = ?, is_processed = 1
		WHERE id = ? AND is_processed = 0
	`, encoded, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// nothing updated: either unknown or already processed
	if _, err := s.GetDiagnosis(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyProcessed
}

func encodeResult(r *models.DiagnosisResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Enqueue appends an image to the pending queue
func (s *SQLiteDB) Enqueue(ctx context.Context, img models.PendingImage) (models.PendingImage, error) {
	if img.QueuedAt.IsZero() {
		img.QueuedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_images (diagnosis_id, image, queued_at) VALUES (?, ?, ?)`,
		img.DiagnosisID, img.Image, img.QueuedAt.UnixNano(),
	)
	if err != nil {
		return img, err
	}
	img.ID, err = res.LastInsertId()
	return img, err
}

// PendingImages lists the queue in FIFO order
func (s *SQLiteDB) PendingImages(ctx context.Context) ([]models.PendingImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, diagnosis_id, image, queued_at FROM pending_images ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingImage
	for rows.Next() {
		var p models.PendingImage
		var queued int64
		if err := rows.Scan(&p.ID, &p.DiagnosisID, &p.Image, &queued); err != nil {
			return nil, err
		}
		p.QueuedAt = time.Unix(0, queued)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingCount returns the queue length
func (s *SQLiteDB) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_images`).Scan(&n)
	return n, err
}

// RemovePendingImage deletes every queued copy of image
func (s *SQLiteDB) RemovePendingImage(ctx context.Context, image string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_images WHERE image = ?`, image)
	return err
}

// RemovePending deletes the given entries inside one transaction
func (s *SQLiteDB) RemovePending(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM pending_images WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("remove pending image %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearPending empties the queue
func (s *SQLiteDB) ClearPending(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_images`)
	return err
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
