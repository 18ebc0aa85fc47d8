package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/franckalain/cropdoctor/internal/app"
	"github.com/franckalain/cropdoctor/internal/notify"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the views are served from the same binary or a local dev server
	},
}

// client serializes writes to one websocket connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Server struct {
	state   *app.State
	clients sync.Map // id -> *client
	debug   bool
}

// New creates a server for state and forwards every notification to the
// connected websocket clients
func New(state *app.State, debug bool) *Server {
	if debug {
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("Debug logging enabled")
	}
	s := &Server{
		state: state,
		debug: debug,
	}
	state.Notifier().AddSink(notify.SinkFunc(s.broadcastNotification))
	return s
}

// Handler returns the HTTP routes. staticDir may be empty.
func (s *Server) Handler(staticDir string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/diagnoses", s.handleListDiagnoses).Methods("GET")
	api.HandleFunc("/diagnoses", s.handleCaptureUpload).Methods("POST")
	api.HandleFunc("/diagnoses/{id}", s.handleGetDiagnosis).Methods("GET")
	api.HandleFunc("/diagnoses/{id}/share", s.handleShare).Methods("GET")
	api.HandleFunc("/pending", s.handleListPending).Methods("GET")
	api.HandleFunc("/pending/drain", s.handleDrain).Methods("POST")
	api.HandleFunc("/knowledge", s.handleSearchKnowledge).Methods("GET")
	api.HandleFunc("/knowledge/{label}", s.handleGetKnowledge).Methods("GET")
	api.HandleFunc("/connectivity", s.handleGetConnectivity).Methods("GET")
	api.HandleFunc("/connectivity", s.handleSetConnectivity).Methods("PUT")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/settings/clear", s.handleClearStorage).Methods("POST")

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, port, staticDir string) error {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(staticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on port %s", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	clientID := uuid.New().String()
	s.clients.Store(clientID, c)
	defer s.clients.Delete(clientID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.debug {
				log.Println("Error reading message:", err)
			}
			break
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Println("Error parsing message:", err)
			s.sendError(c, "Invalid message format")
			continue
		}

		s.handleWebSocketMessage(r.Context(), c, msg)
	}
}

func (s *Server) sendMessage(c *client, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if s.debug {
		log.Printf("Sending message to client - Type: %s", messageType)
	}
	if err := c.writeJSON(msg); err != nil {
		log.Println("Error sending message:", err)
	}
}

func (s *Server) sendError(c *client, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := c.writeJSON(msg); err != nil {
		log.Println("Error sending error message:", err)
	}
}

func (s *Server) broadcastNotification(n notify.Notification) {
	s.clients.Range(func(_, value any) bool {
		s.sendMessage(value.(*client), "notification", n)
		return true
	})
}

func (s *Server) closeClients() {
	s.clients.Range(func(key, value any) bool {
		value.(*client).conn.Close()
		s.clients.Delete(key)
		return true
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.state.IsOnline(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
