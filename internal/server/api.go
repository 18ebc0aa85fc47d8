package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/pipeline"
	"github.com/gorilla/mux"
)

const maxUploadBytes = 16 << 20

func (s *Server) handleListDiagnoses(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := s.state.Diagnoses(r.Context(), limit)
	if err != nil {
		log.Printf("Error listing diagnoses: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list diagnoses")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// handleCaptureUpload accepts {"image": "<data uri or base64>"}
func (s *Server) handleCaptureUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil || body.Image == "" {
		respondError(w, http.StatusBadRequest, "invalid image data")
		return
	}
	frame, err := decodeFrame(body.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	nav, err := s.state.Capture(r.Context(), frame)
	switch {
	case errors.Is(err, pipeline.ErrCaptureInProgress):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Printf("Error capturing image: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to capture image")
		return
	}
	status := http.StatusCreated
	if nav.Route == pipeline.RouteHistory {
		status = http.StatusAccepted
	}
	respondJSON(w, status, navigationPayload(nav))
}

func (s *Server) handleGetDiagnosis(w http.ResponseWriter, r *http.Request) {
	d, err := s.state.Diagnosis(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve diagnosis")
		return
	}
	respondJSON(w, http.StatusOK, s.detail(d))
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	msg, link, err := s.state.ShareLink(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build share link")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": msg, "whatsapp_url": link})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.state.PendingImages(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending images")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": pending, "count": len(pending)})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	report, err := s.state.Drain(r.Context())
	if errors.Is(err, pipeline.ErrDrainInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		log.Printf("Error draining queue: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to drain queue")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.SearchKnowledge(r.URL.Query().Get("q")))
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	info, ok := s.state.LookupDisease(mux.Vars(r)["label"])
	if !ok {
		respondError(w, http.StatusNotFound, "disease not found")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"online": s.state.IsOnline()})
}

func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		respondError(w, http.StatusBadRequest, "expected {\"online\": bool}")
		return
	}
	changed := s.state.SetOnline(*body.Online)
	respondJSON(w, http.StatusOK, map[string]bool{"online": s.state.IsOnline(), "changed": changed})
}

type settingsPayload struct {
	Language    models.Language   `json:"language"`
	UseLocation bool              `json:"use_location"`
	FacingMode  camera.FacingMode `json:"facing_mode"`
}

func (s *Server) settings() settingsPayload {
	return settingsPayload{
		Language:    s.state.Language(),
		UseLocation: s.state.UseLocation(),
		FacingMode:  s.state.FacingMode(),
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language     *string `json:"language"`
		UseLocation  *bool   `json:"use_location"`
		ToggleCamera bool    `json:"toggle_camera"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid settings")
		return
	}
	if body.Language != nil {
		if err := s.state.SetLanguage(models.Language(*body.Language)); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if body.UseLocation != nil {
		s.state.SetUseLocation(*body.UseLocation)
	}
	if body.ToggleCamera {
		s.state.ToggleFacingMode()
	}
	respondJSON(w, http.StatusOK, s.settings())
}

func (s *Server) handleClearStorage(w http.ResponseWriter, r *http.Request) {
	if err := s.state.ClearStorage(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear storage")
		return
	}
	respondJSON(w, http.StatusOK, s.settings())
}
