// Package ui pushes monitor events to browser clients over websockets.
//
// The hub broadcasts four event kinds: live spectrum frames, recognized
// transcripts, guard mode changes, and transient action notifications. The
// protocol is push-only except for one client message, a recalibration
// request, which the hub surfaces on [Hub.Recalibrations].
//
// Broadcasting never blocks: a client that cannot keep up has events dropped
// rather than stalling the pipeline.
package ui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aegisd/aegis/internal/guard"
	"github.com/aegisd/aegis/internal/observe"
)

// Event kinds pushed to clients.
const (
	EventSpectrum     = "spectrum"
	EventTranscript   = "transcript"
	EventMode         = "mode"
	EventNotification = "notification"
)

// notificationTTL is how long clients should display a transient notification
// before auto-dismissing it.
const notificationTTL = 3 * time.Second

// sendBuffer is the per-client event queue depth. Spectrum frames arrive at
// up to 30 Hz, so a stalled client fills this within about a second.
const sendBuffer = 32

// Event is the wire format for every pushed message. Only the fields relevant
// to Type are set.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Bands carries the per-band spectrum magnitudes (EventSpectrum).
	Bands []float64 `json:"bands,omitempty"`

	// Text carries a recognized transcript (EventTranscript).
	Text string `json:"text,omitempty"`

	// Active carries the guard mode (EventMode).
	Active *bool `json:"active,omitempty"`

	// Message, Severity and TTLMillis describe a transient notification
	// (EventNotification). Clients dismiss it after TTLMillis.
	Message   string `json:"message,omitempty"`
	Severity  string `json:"severity,omitempty"`
	TTLMillis int64  `json:"ttl_ms,omitempty"`
}

// clientMessage is the only client-to-server frame.
type clientMessage struct {
	Type string `json:"type"`
}

type client struct {
	send chan []byte
}

// Hub fans events out to all connected websocket clients. Safe for concurrent
// use.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	metrics *observe.Metrics

	recalibrations chan struct{}
	dropped        atomic.Int64
}

// HubOption is a functional option for [NewHub].
type HubOption func(*Hub)

// WithMetrics tracks the connected client count on the given instruments.
func WithMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:        make(map[*client]struct{}),
		recalibrations: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Recalibrations delivers one signal per client recalibration request.
// Requests arriving while one is already pending are coalesced.
func (h *Hub) Recalibrations() <-chan struct{} { return h.recalibrations }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// DroppedEvents returns how many events were discarded because a client's
// queue was full.
func (h *Hub) DroppedEvents() int64 { return h.dropped.Load() }

// ServeHTTP upgrades the request to a websocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &client{send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for msg := range c.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var cm clientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			slog.Debug("ignoring malformed client message", "error", err)
			continue
		}
		if cm.Type == "recalibrate" {
			select {
			case h.recalibrations <- struct{}{}:
				slog.Info("recalibration requested by client")
			default:
			}
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.RecordUIClients(context.Background(), 1)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		if h.metrics != nil {
			h.metrics.RecordUIClients(context.Background(), -1)
		}
	}
}

// Broadcast pushes one event to every connected client, dropping it for
// clients whose queue is full.
func (h *Hub) Broadcast(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// PumpSpectra forwards spectrum frames to all clients until the channel
// closes or ctx is cancelled.
func (h *Hub) PumpSpectra(ctx context.Context, spectra <-chan []float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bands, ok := <-spectra:
			if !ok {
				return nil
			}
			h.Broadcast(Event{Type: EventSpectrum, Bands: bands})
		}
	}
}

// ModeChanged implements [guard.Notifier].
func (h *Hub) ModeChanged(active bool) {
	h.Broadcast(Event{Type: EventMode, Active: &active})
}

// TranscriptRecognized implements [guard.Notifier].
func (h *Hub) TranscriptRecognized(text string) {
	h.Broadcast(Event{Type: EventTranscript, Text: text})
}

// ActionNotification implements [guard.Notifier].
func (h *Hub) ActionNotification(message, severity string) {
	h.Broadcast(Event{
		Type:      EventNotification,
		Message:   message,
		Severity:  severity,
		TTLMillis: notificationTTL.Milliseconds(),
	})
}

var _ guard.Notifier = (*Hub)(nil)
