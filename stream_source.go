package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay   = 1 * time.Second
	reconnectMaxBackoff  = 10 * time.Second
	maxReconnectAttempts = 5
)

var (
	errReconnectExhausted = errors.New("reconnect attempts exhausted")
	errServiceClosed      = errors.New("telemetry service closed")
)

// reconnectBackoff returns the delay before reconnect attempt n (n >= 1).
func reconnectBackoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt > 30 {
		return limit
	}
	backoff := time.Duration(1<<uint(attempt)) * base
	if backoff > limit {
		backoff = limit
	}
	return backoff
}

// StreamSource is the push variant of acquisition: the endpoint sends
// records over a WebSocket and every message is ingested as it arrives.
// It reports its own connection status and gives up after a fixed number
// of failed reconnects.
type StreamSource struct {
	url     string
	service *TelemetryService
	dialer  *websocket.Dialer

	baseDelay   time.Duration
	maxBackoff  time.Duration
	maxAttempts int

	attempts int
}

func NewStreamSource(url string, service *TelemetryService) *StreamSource {
	return &StreamSource{
		url:         url,
		service:     service,
		dialer:      &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		baseDelay:   reconnectBaseDelay,
		maxBackoff:  reconnectMaxBackoff,
		maxAttempts: maxReconnectAttempts,
	}
}

func (s *StreamSource) Name() string {
	return s.url
}

// Run connects and reads until ctx is done or reconnecting gives up.
func (s *StreamSource) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil || errors.Is(err, errServiceClosed) {
			return nil
		}
		slog.Warn("telemetry stream failed", "url", s.url, "error", err)

		if err := s.waitReconnect(ctx); err != nil {
			if errors.Is(err, errReconnectExhausted) {
				slog.Error("telemetry stream gave up", "url", s.url, "attempts", s.maxAttempts)
				s.service.SetStatus(StatusDisconnected)
			}
			return nil
		}
	}
}

func (s *StreamSource) waitReconnect(ctx context.Context) error {
	if s.attempts >= s.maxAttempts {
		return errReconnectExhausted
	}
	s.attempts++
	delay := reconnectBackoff(s.attempts, s.baseDelay, s.maxBackoff)
	slog.Info("reconnecting telemetry stream", "attempt", s.attempts, "max", s.maxAttempts, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session runs one connection until it drops. It never returns nil.
func (s *StreamSource) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.service.SetStatus(StatusError)
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	s.attempts = 0
	s.service.SetStatus(StatusConnected)
	slog.Info("telemetry stream connected", "url", s.url)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.service.SetStatus(StatusDisconnected)
			}
			return fmt.Errorf("read stream: %w", err)
		}

		rec, err := DecodeRawRecord(msg)
		if err != nil {
			slog.Warn("discarding malformed stream message", "error", err)
			continue
		}
		if !s.service.Ingest(*rec) {
			return errServiceClosed
		}
	}
}
