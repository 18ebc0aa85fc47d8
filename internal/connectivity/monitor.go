package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Prober reports whether the inference service is reachable
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber issues GET {URL}. Any HTTP response counts as online; only a
// transport failure counts as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber probes {apiURL}/health with a short timeout
func NewHTTPProber(apiURL string) *HTTPProber {
	return &HTTPProber{
		URL:    apiURL + "/health",
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Handler is called with the new state after every transition
type Handler func(online bool)

// Monitor tracks the online flag and notifies handlers on transitions only.
// Handlers run synchronously, in subscription order, one transition at a
// time. They may call IsOnline but must not call Set.
type Monitor struct {
	online   atomic.Bool
	mu       sync.Mutex
	handlers []Handler
}

// NewMonitor starts in the given state without notifying anyone
func NewMonitor(initial bool) *Monitor {
	m := &Monitor{}
	m.online.Store(initial)
	return m
}

// IsOnline reports the current state
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers h for future transitions
func (m *Monitor) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Set records the state and reports whether it changed
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online.Swap(online) == online {
		return false
	}
	if online {
		log.Println("Connectivity: online")
	} else {
		log.Println("Connectivity: offline")
	}
	for _, h := range m.handlers {
		h(online)
	}
	return true
}

// Run probes immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, p Prober, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.Set(online)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
