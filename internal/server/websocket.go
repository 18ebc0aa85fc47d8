package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"

	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/ml"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/pipeline"
)

func (s *Server) handleWebSocketMessage(ctx context.Context, c *client, message map[string]any) {
	messageType, ok := message["type"].(string)
	if !ok {
		s.sendError(c, "Invalid message format")
		return
	}

	data, _ := message["data"].(map[string]any)

	switch messageType {
	case "capture":
		s.handleCapture(ctx, c, data)
	case "get_history":
		s.handleGetHistory(ctx, c)
	case "get_diagnosis":
		s.handleGetDiagnosisMessage(ctx, c, data)
	case "get_pending":
		s.handleGetPending(ctx, c)
	case "search_knowledge":
		term, _ := data["term"].(string)
		s.sendMessage(c, "knowledge", s.state.SearchKnowledge(term))
	case "lookup_disease":
		s.handleLookupDisease(c, data)
	case "set_language":
		s.handleSetLanguage(c, data)
	case "set_online":
		online, ok := data["online"].(bool)
		if !ok {
			s.sendError(c, "Invalid online flag")
			return
		}
		s.state.SetOnline(online)
		s.sendMessage(c, "connectivity", map[string]bool{"online": s.state.IsOnline()})
	default:
		s.sendError(c, "Unknown message type")
	}
}

// decodeFrame accepts a data URI or bare base64 JPEG/PNG
func decodeFrame(encoded string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(ml.StripDataURIPrefix(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return img, nil
}

func (s *Server) handleCapture(ctx context.Context, c *client, data map[string]any) {
	imageStr, ok := data["image"].(string)
	if !ok {
		s.sendError(c, "Invalid image data")
		return
	}

	frame, err := decodeFrame(imageStr)
	if err != nil {
		log.Printf("Error decoding image: %v", err)
		s.sendError(c, "Invalid image format")
		return
	}

	nav, err := s.state.Capture(ctx, frame)
	if errors.Is(err, pipeline.ErrCaptureInProgress) {
		s.sendError(c, "Capture already in progress")
		return
	}
	if err != nil {
		log.Printf("Error capturing image: %v", err)
		s.sendError(c, "Failed to capture image")
		return
	}

	s.sendMessage(c, "navigate", navigationPayload(nav))
}

func navigationPayload(nav pipeline.Navigation) map[string]any {
	return map[string]any{
		"route":        nav.Route,
		"diagnosis_id": nav.DiagnosisID,
		"path":         nav.Path(),
	}
}

func (s *Server) historyPayload(ctx context.Context) (map[string]any, error) {
	items, err := s.state.Diagnoses(ctx, 0)
	if err != nil {
		return nil, err
	}
	pending, err := s.state.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":         items,
		"pending_count": pending,
	}, nil
}

func (s *Server) handleGetHistory(ctx context.Context, c *client) {
	payload, err := s.historyPayload(ctx)
	if err != nil {
		log.Printf("Error retrieving history: %v", err)
		s.sendError(c, "Failed to retrieve history")
		return
	}
	s.sendMessage(c, "history", payload)
}

// diagnosisDetail is the result view: the record plus the knowledge entry
// for its first detection, when there is one
type diagnosisDetail struct {
	Diagnosis   *models.Diagnosis   `json:"diagnosis"`
	DisplayName string              `json:"display_name,omitempty"`
	Confidence  int                 `json:"confidence_percent,omitempty"`
	Location    string              `json:"location,omitempty"`
	Disease     *models.DiseaseInfo `json:"disease,omitempty"`
}

func (s *Server) detail(d *models.Diagnosis) diagnosisDetail {
	out := diagnosisDetail{Diagnosis: d}
	if d.Location != nil {
		out.Location = d.Location.String()
	}
	if top, ok := d.TopDetection(); ok {
		out.DisplayName = models.DisplayName(top.Label)
		out.Confidence = models.ConfidencePercent(top.Confidence)
		if info, found := s.state.LookupDisease(top.Label); found {
			out.Disease = info
		}
	}
	return out
}

func (s *Server) handleGetDiagnosisMessage(ctx context.Context, c *client, data map[string]any) {
	id, ok := data["id"].(string)
	if !ok {
		s.sendError(c, "Missing diagnosis ID")
		return
	}
	d, err := s.state.Diagnosis(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		s.sendError(c, "Diagnosis not found")
		return
	}
	if err != nil {
		log.Printf("Error retrieving diagnosis %s: %v", id, err)
		s.sendError(c, "Failed to retrieve diagnosis")
		return
	}
	s.sendMessage(c, "diagnosis", s.detail(d))
}

func (s *Server) handleGetPending(ctx context.Context, c *client) {
	pending, err := s.state.PendingImages(ctx)
	if err != nil {
		log.Printf("Error retrieving pending images: %v", err)
		s.sendError(c, "Failed to retrieve pending images")
		return
	}
	s.sendMessage(c, "pending", map[string]any{
		"items": pending,
		"count": len(pending),
	})
}

func (s *Server) handleLookupDisease(c *client, data map[string]any) {
	label, _ := data["label"].(string)
	if info, ok := s.state.LookupDisease(label); ok {
		s.sendMessage(c, "disease", info)
		return
	}
	s.sendMessage(c, "disease", nil)
}

func (s *Server) handleSetLanguage(c *client, data map[string]any) {
	lang, _ := data["language"].(string)
	if err := s.state.SetLanguage(models.Language(lang)); err != nil {
		s.sendError(c, "Unsupported language")
		return
	}
	s.sendMessage(c, "settings", s.settings())
}
