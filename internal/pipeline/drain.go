package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/models"
)

// DrainReport summarizes one pass over the pending queue
type DrainReport struct {
	Attempted int `json:"attempted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Drain replays a snapshot of the pending queue through the model. Every
// successful entry has its result attached to its diagnosis; all of them
// are then removed from the queue in one step. Failed entries, and entries
// queued while the drain runs, stay queued.
func (p *Pipeline) Drain(ctx context.Context) (DrainReport, error) {
	if !p.draining.TryLock() {
		return DrainReport{}, ErrDrainInProgress
	}
	defer p.draining.Unlock()

	pending, err := p.store.PendingImages(ctx)
	if err != nil {
		return DrainReport{}, fmt.Errorf("failed to read pending images: %w", err)
	}
	report := DrainReport{Attempted: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}

	done := make([]int64, 0, len(pending))
	for _, item := range pending {
		if ctx.Err() != nil {
			break
		}
		result, err := p.model.Predict(ctx, item.Image)
		if err != nil {
			log.Printf("Replay of pending image %d failed: %v", item.ID, err)
			continue
		}
		if err := p.record(ctx, item, result); err != nil {
			log.Printf("Could not record result for pending image %d: %v", item.ID, err)
			continue
		}
		done = append(done, item.ID)
	}

	report.Processed = len(done)
	report.Failed = len(pending) - len(done)
	if len(done) > 0 {
		// results are already attached, so the queue must follow even if ctx ended
		if err := p.store.RemovePending(context.WithoutCancel(ctx), done); err != nil {
			return report, fmt.Errorf("failed to remove drained images: %w", err)
		}
	}
	log.Printf("Drained pending queue: %d processed, %d still queued", report.Processed, report.Failed)
	return report, nil
}

func (p *Pipeline) record(ctx context.Context, item models.PendingImage, result *models.DiagnosisResult) error {
	if item.DiagnosisID != "" {
		err := p.store.AttachResult(ctx, item.DiagnosisID, result)
		switch {
		case err == nil, errors.Is(err, database.ErrAlreadyProcessed):
			return nil
		case !errors.Is(err, database.ErrNotFound):
			return err
		}
	}

	// images queued without a diagnosis get one now
	id := item.DiagnosisID
	if id == "" {
		id = p.newID()
	}
	ts := item.QueuedAt
	if ts.IsZero() {
		ts = p.now()
	}
	return p.store.AddDiagnosis(ctx, &models.Diagnosis{
		ID:          id,
		ImageURI:    item.Image,
		Result:      result,
		Timestamp:   ts,
		IsProcessed: true,
	})
}
