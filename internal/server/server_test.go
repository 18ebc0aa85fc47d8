package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/franckalain/cropdoctor/internal/app"
	"github.com/franckalain/cropdoctor/internal/connectivity"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/gorilla/websocket"
)

type fakeModel struct{}

func (fakeModel) Load(ctx context.Context) error { return nil }

func (fakeModel) Predict(ctx context.Context, image string) (*models.DiagnosisResult, error) {
	return &models.DiagnosisResult{
		Count:      1,
		Detections: []models.Detection{{Label: "Wheat___Rust", Confidence: 0.87, BBox: [4]float64{1, 1, 3, 3}}},
	}, nil
}

func setupServer(t *testing.T, online bool) (*httptest.Server, *app.State) {
	t.Helper()
	kb, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default() error: %v", err)
	}
	tr, err := locale.New()
	if err != nil {
		t.Fatalf("locale.New() error: %v", err)
	}
	state := app.New(database.NewMemoryDB(), fakeModel{}, connectivity.NewMonitor(online), kb, tr, app.Options{})
	t.Cleanup(state.Close)

	ts := httptest.NewServer(New(state, false).Handler(""))
	t.Cleanup(ts.Close)
	return ts, state
}

func encodedFrame(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("http.NewRequest() error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := setupServer(t, true)
	var body map[string]any
	if code := doJSON(t, "GET", ts.URL+"/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["online"] != true {
		t.Errorf("health = %v", body)
	}
}

func TestCaptureUploadOnline(t *testing.T) {
	ts, _ := setupServer(t, true)

	var nav map[string]any
	code := doJSON(t, "POST", ts.URL+"/api/diagnoses", map[string]string{"image": encodedFrame(t)}, &nav)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", code, nav)
	}
	if nav["route"] != "result" {
		t.Fatalf("navigation = %v", nav)
	}
	id, _ := nav["diagnosis_id"].(string)

	var detail diagnosisDetail
	if code := doJSON(t, "GET", ts.URL+"/api/diagnoses/"+id, nil, &detail); code != http.StatusOK {
		t.Fatalf("GET diagnosis status = %d", code)
	}
	if detail.DisplayName != "Wheat Rust" || detail.Confidence != 87 {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Disease == nil || detail.Disease.Disease != "Wheat___Rust" {
		t.Errorf("knowledge entry missing: %+v", detail.Disease)
	}

	var share map[string]string
	if code := doJSON(t, "GET", ts.URL+"/api/diagnoses/"+id+"/share", nil, &share); code != http.StatusOK {
		t.Fatalf("share status = %d", code)
	}
	if !strings.HasPrefix(share["whatsapp_url"], "https://wa.me/?text=") {
		t.Errorf("share = %v", share)
	}

	var list []models.Diagnosis
	if code := doJSON(t, "GET", ts.URL+"/api/diagnoses?limit=1", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Errorf("list status = %d, len = %d", code, len(list))
	}
}

func TestCaptureUploadOfflineQueues(t *testing.T) {
	ts, _ := setupServer(t, false)

	var nav map[string]any
	if code := doJSON(t, "POST", ts.URL+"/api/diagnoses", map[string]string{"image": encodedFrame(t)}, &nav); code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if nav["path"] != "/history" {
		t.Errorf("navigation = %v", nav)
	}

	var pending struct {
		Count int `json:"count"`
	}
	doJSON(t, "GET", ts.URL+"/api/pending", nil, &pending)
	if pending.Count != 1 {
		t.Fatalf("pending = %d, want 1", pending.Count)
	}

	var report struct {
		Attempted int `json:"attempted"`
		Processed int `json:"processed"`
	}
	if code := doJSON(t, "POST", ts.URL+"/api/pending/drain", nil, &report); code != http.StatusOK {
		t.Fatalf("drain status = %d", code)
	}
	if report.Attempted != 1 || report.Processed != 1 {
		t.Errorf("report = %+v", report)
	}
	doJSON(t, "GET", ts.URL+"/api/pending", nil, &pending)
	if pending.Count != 0 {
		t.Errorf("pending after drain = %d", pending.Count)
	}
}

func TestBadRequests(t *testing.T) {
	ts, _ := setupServer(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing image", "POST", "/api/diagnoses", map[string]string{}, http.StatusBadRequest},
		{"not base64", "POST", "/api/diagnoses", map[string]string{"image": "%%%"}, http.StatusBadRequest},
		{"bad limit", "GET", "/api/diagnoses?limit=x", nil, http.StatusBadRequest},
		{"unknown diagnosis", "GET", "/api/diagnoses/nope", nil, http.StatusNotFound},
		{"unknown share", "GET", "/api/diagnoses/nope/share", nil, http.StatusNotFound},
		{"unknown disease", "GET", "/api/knowledge/Tomato___Late_Blight", nil, http.StatusNotFound},
		{"missing online flag", "PUT", "/api/connectivity", map[string]string{}, http.StatusBadRequest},
		{"bad language", "PUT", "/api/settings", map[string]string{"language": "fr"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, tt.method, ts.URL+tt.path, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestKnowledgeRoutes(t *testing.T) {
	ts, _ := setupServer(t, true)

	var all []models.DiseaseInfo
	doJSON(t, "GET", ts.URL+"/api/knowledge", nil, &all)
	if len(all) != 3 {
		t.Errorf("knowledge entries = %d, want 3", len(all))
	}

	var found []models.DiseaseInfo
	doJSON(t, "GET", ts.URL+"/api/knowledge?q=rust", nil, &found)
	if len(found) != 1 || found[0].Disease != "Wheat___Rust" {
		t.Errorf("search rust = %+v", found)
	}

	var info models.DiseaseInfo
	if code := doJSON(t, "GET", ts.URL+"/api/knowledge/Wheat___Rust", nil, &info); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if info.SymptomsIn(models.Hindi) == "" {
		t.Error("hindi symptoms missing")
	}
}

func TestSettingsRoutes(t *testing.T) {
	ts, state := setupServer(t, true)

	var got settingsPayload
	code := doJSON(t, "PUT", ts.URL+"/api/settings", map[string]any{
		"language":      "hi",
		"use_location":  false,
		"toggle_camera": true,
	}, &got)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Language != models.Hindi || got.UseLocation || got.FacingMode != "user" {
		t.Errorf("settings = %+v", got)
	}
	if state.Language() != models.Hindi {
		t.Error("state language not updated")
	}

	doJSON(t, "POST", ts.URL+"/api/settings/clear", nil, &got)
	if got.Language != models.English || !got.UseLocation {
		t.Errorf("settings after clear = %+v", got)
	}
}

type wsMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages until one of the given type arrives
func readUntil(t *testing.T, conn *websocket.Conn, messageType string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", messageType, err)
		}
		if msg.Type == messageType {
			return msg
		}
	}
}

func TestWebSocketCapture(t *testing.T) {
	ts, _ := setupServer(t, true)
	conn := dial(t, ts)

	err := conn.WriteJSON(map[string]any{
		"type": "capture",
		"data": map[string]string{"image": encodedFrame(t)},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}

	msg := readUntil(t, conn, "navigate")
	var nav struct {
		Route string `json:"route"`
		ID    string `json:"diagnosis_id"`
	}
	if err := json.Unmarshal(msg.Data, &nav); err != nil {
		t.Fatalf("decoding navigate: %v", err)
	}
	if nav.Route != "result" || nav.ID == "" {
		t.Errorf("navigate = %+v", nav)
	}

	conn.WriteJSON(map[string]any{"type": "get_history"})
	msg = readUntil(t, conn, "history")
	var history struct {
		Items []models.Diagnosis `json:"items"`
	}
	json.Unmarshal(msg.Data, &history)
	if len(history.Items) != 1 || history.Items[0].ID != nav.ID {
		t.Errorf("history = %+v", history.Items)
	}
}

func TestWebSocketErrors(t *testing.T) {
	ts, _ := setupServer(t, true)
	conn := dial(t, ts)

	conn.WriteJSON(map[string]any{"type": "bogus"})
	if msg := readUntil(t, conn, "error"); msg.Message != "Unknown message type" {
		t.Errorf("error = %q", msg.Message)
	}

	conn.WriteJSON(map[string]any{"type": "get_diagnosis", "data": map[string]string{"id": "nope"}})
	if msg := readUntil(t, conn, "error"); msg.Message != "Diagnosis not found" {
		t.Errorf("error = %q", msg.Message)
	}
}

func TestNotificationBroadcast(t *testing.T) {
	ts, _ := setupServer(t, true)
	conn := dial(t, ts)

	// the reply guarantees the connection is registered before broadcasting
	conn.WriteJSON(map[string]any{"type": "get_pending"})
	readUntil(t, conn, "pending")

	doJSON(t, "PUT", ts.URL+"/api/connectivity", map[string]bool{"online": false}, nil)

	msg := readUntil(t, conn, "notification")
	var n struct {
		Level     string `json:"level"`
		MessageID string `json:"message_id"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatalf("decoding notification: %v", err)
	}
	if n.MessageID != locale.WentOffline || n.Level != "error" || n.Message == "" {
		t.Errorf("notification = %+v", n)
	}
}
