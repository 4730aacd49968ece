package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MockTelemetryServer serves a synthetic flight in the endpoint's wire
// format, both as a polled record and as a WebSocket stream.
type MockTelemetryServer struct {
	mu       sync.Mutex
	addr     string
	center   TrackPoint
	start    time.Time
	interval time.Duration
	server   *http.Server
}

func NewMockTelemetryServer(center TrackPoint, interval time.Duration) *MockTelemetryServer {
	return &MockTelemetryServer{
		center:   center,
		start:    time.Now(),
		interval: interval,
	}
}

// Start listens on addr (use "127.0.0.1:0" for any free port) and returns
// the bound address.
func (m *MockTelemetryServer) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /latest", m.handleLatest)
	mux.HandleFunc("GET /stream", m.handleStream)

	m.mu.Lock()
	m.addr = listener.Addr().String()
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := m.server
	m.mu.Unlock()

	go func() {
		slog.Info("mock telemetry server started", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("mock telemetry server stopped", "error", err)
		}
	}()

	return listener.Addr().String(), nil
}

func (m *MockTelemetryServer) Close() error {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// record builds the wire record at time t: a slow circle around the
// center with gentle oscillations on every axis.
func (m *MockTelemetryServer) record(t time.Time) map[string]string {
	sec := t.Sub(m.start).Seconds()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	return map[string]string{
		"Latitude":               strconv.FormatFloat(m.center.Lat+0.01*math.Sin(sec*0.05), 'f', 6, 64),
		"Longitude":              strconv.FormatFloat(m.center.Lon+0.01*math.Cos(sec*0.05), 'f', 6, 64),
		"Altitude":               f(5 + 3*math.Sin(sec*0.1)),
		"GPSAltitude":            f(90 + 3*math.Sin(sec*0.1)),
		"GPSCourse":              f(math.Mod(sec*10, 360)),
		"GPSSpeed":               f(8 + math.Sin(sec*0.2)),
		"AirSpeed":               f(9 + math.Sin(sec*0.2)),
		"PropellerRotationSpeed": strconv.Itoa(150 + int(20*math.Sin(sec*0.3))),
		"Yaw_Mad6":               f(math.Mod(sec*10, 360)),
		"Roll_Mad6":              f(10 * math.Sin(sec*0.4)),
		"Pitch_Mad6":             f(5 * math.Sin(sec*0.3)),
		"Temperature":            f(24 + math.Sin(sec*0.01)),
		"Elevator":               f(4 * math.Sin(sec*0.5)),
		"Rudder":                 f(6 * math.Sin(sec*0.35)),
		"Trim":                   f(1.5),
		"Date":                   t.Format("2006/01/02"),
		"Time":                   t.Format("15:04:05"),
	}
}

func (m *MockTelemetryServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.record(time.Now()))
}

func (m *MockTelemetryServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("mock stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain control frames so close messages from the client are seen.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case now := <-ticker.C:
			conn.SetWriteDeadline(now.Add(5 * time.Second))
			if err := conn.WriteJSON(m.record(now)); err != nil {
				return
			}
		}
	}
}
