package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},   // 2^1 * 1s
		{2, 4 * time.Second},   // 2^2 * 1s
		{3, 8 * time.Second},   // 2^3 * 1s
		{4, 10 * time.Second},  // 16s, capped
		{5, 10 * time.Second},  // 32s, capped
		{64, 10 * time.Second}, // no overflow
	}

	for _, tt := range tests {
		got := reconnectBackoff(tt.attempt, reconnectBaseDelay, reconnectMaxBackoff)
		assert.Equal(t, tt.expected, got, "attempt %d", tt.attempt)
	}
}

func fastStreamSource(url string, svc *TelemetryService) *StreamSource {
	src := NewStreamSource(url, svc)
	src.baseDelay = time.Millisecond
	src.maxBackoff = 5 * time.Millisecond
	return src
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStreamSourceIngestsMessages(t *testing.T) {
	mock := NewMockTelemetryServer(TrackPoint{Lat: 35.3, Lon: 136.2}, 10*time.Millisecond)
	addr, err := mock.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer mock.Close()

	svc := newTestService(t)
	l := &recordingListener{}
	svc.Subscribe(l)
	src := fastStreamSource("ws://"+addr+"/stream", svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(l.Samples()) >= 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusConnected, svc.Status())
	assert.InDelta(t, 35.3, svc.Current().Latitude, 0.02)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream source did not stop")
	}
}

func TestStreamSourceSkipsMalformedMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"Altitude":"4.5"}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	svc := newTestService(t)
	src := fastStreamSource(wsURL(srv.URL), svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	require.Eventually(t, func() bool {
		return svc.History().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4.5, svc.Current().Altitude)
}

func TestStreamSourceGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv.URL)
	srv.Close()

	svc := newTestService(t)
	l := &recordingListener{}
	svc.Subscribe(l)
	src := fastStreamSource(url, svc)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream source kept reconnecting")
	}

	assert.Equal(t, maxReconnectAttempts, src.attempts)
	assert.Equal(t, StatusDisconnected, svc.Status())
	assert.Equal(t, []Status{StatusError, StatusDisconnected}, l.Statuses())
}

func TestStreamSourceStopsWhenServiceClosed(t *testing.T) {
	mock := NewMockTelemetryServer(TrackPoint{Lat: 35.3, Lon: 136.2}, 5*time.Millisecond)
	addr, err := mock.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer mock.Close()

	svc := newTestService(t)
	svc.Close()
	src := fastStreamSource("ws://"+addr+"/stream", svc)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream source did not stop after service close")
	}
	assert.Equal(t, 0, src.attempts)
}
