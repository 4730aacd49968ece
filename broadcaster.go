package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	clientEventBuffer = 64
	heartbeatInterval = 15 * time.Second
)

// Event is one message on the browser event stream.
type Event struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

type sseClient struct {
	id     string
	events chan Event
}

// Broadcaster fans samples and status changes out to Server-Sent Events
// clients. A client that falls behind loses events instead of slowing the
// acquisition loop.
type Broadcaster struct {
	service *TelemetryService

	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  int64
	dropped uint64
}

func NewBroadcaster(service *TelemetryService) *Broadcaster {
	return &Broadcaster{
		service: service,
		clients: make(map[string]*sseClient),
	}
}

func (b *Broadcaster) OnSample(s Sample) {
	b.publish("sample", s)
}

func (b *Broadcaster) OnStatus(st Status) {
	b.publish("status", map[string]Status{"status": st})
}

func (b *Broadcaster) publish(typ string, data any) {
	b.mu.Lock()
	b.nextID++
	ev := Event{ID: b.nextID, Type: typ, Data: data}
	for _, c := range b.clients {
		select {
		case c.events <- ev:
		default:
			b.dropped++
		}
	}
	b.mu.Unlock()
}

// ClientCount reports the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped reports how many events were discarded for slow clients.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Broadcaster) register() *sseClient {
	c := &sseClient{
		id:     uuid.NewString(),
		events: make(chan Event, clientEventBuffer),
	}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	return c
}

func (b *Broadcaster) unregister(c *sseClient) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
}

// ServeHTTP streams events until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.register()
	defer b.unregister(c)
	slog.Debug("event stream client connected", "client", c.id)

	ready := Event{Type: "ready", Data: map[string]any{
		"sample": b.service.Current(),
		"status": b.service.Status(),
	}}
	if err := writeEvent(w, ready); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("event stream client disconnected", "client", c.id)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-c.events:
			if err := writeEvent(w, ev); err != nil {
				slog.Debug("event stream write failed", "client", c.id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
