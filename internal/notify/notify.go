// Package notify delivers short localized messages to whoever is showing
// them: the log, connected websocket clients, a test recorder.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/models"
)

type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Error   Level = "error"
)

// Notification is one user-visible message
type Notification struct {
	Level     Level     `json:"level"`
	MessageID string    `json:"message_id"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Sink receives every published notification
type Sink interface {
	Publish(n Notification)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(n Notification)

func (f SinkFunc) Publish(n Notification) { f(n) }

// Notifier localizes messages in the current language and fans them out
type Notifier struct {
	tr       *locale.Translator
	language func() models.Language

	mu    sync.RWMutex
	sinks []Sink
}

// New creates a Notifier. language is consulted on every message.
func New(tr *locale.Translator, language func() models.Language, sinks ...Sink) *Notifier {
	return &Notifier{tr: tr, language: language, sinks: sinks}
}

// AddSink registers another receiver
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Send publishes messageID at level
func (n *Notifier) Send(level Level, messageID string) {
	n.publish(level, messageID, n.tr.T(n.language(), messageID))
}

// SendCount publishes a plural message for count items
func (n *Notifier) SendCount(level Level, messageID string, count int) {
	n.publish(level, messageID, n.tr.Count(n.language(), messageID, count))
}

func (n *Notifier) publish(level Level, id, msg string) {
	note := Notification{Level: level, MessageID: id, Message: msg, Time: time.Now()}
	n.mu.RLock()
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(note)
	}
}

// LogSink writes notifications to the standard logger
var LogSink = SinkFunc(func(n Notification) {
	log.Printf("[%s] %s", n.Level, n.Message)
})

// Recorder keeps every notification it receives
type Recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *Recorder) Publish(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

// IDs returns the message IDs received so far, oldest first
func (r *Recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.notes))
	for i, n := range r.notes {
		ids[i] = n.MessageID
	}
	return ids
}

// All returns a copy of the received notifications
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}
