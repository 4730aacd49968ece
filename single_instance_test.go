package main

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestSingleInstanceSecondLaunchShowsFirst(t *testing.T) {
	addr := freeAddr(t)

	first, err := NewSingleInstance(addr)
	require.NoError(t, err)
	defer first.Close()

	shown := make(chan struct{}, 1)
	first.Serve("http://127.0.0.1:8088/", func() { shown <- struct{}{} })

	_, err = NewSingleInstance(addr)
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running), "got %v", err)
	assert.Equal(t, "http://127.0.0.1:8088/", running.DashboardURL)
	assert.Contains(t, err.Error(), "http://127.0.0.1:8088/")

	select {
	case <-shown:
	case <-time.After(2 * time.Second):
		t.Fatal("first instance was not asked to show")
	}
}

func TestSingleInstanceBeforeServe(t *testing.T) {
	addr := freeAddr(t)

	first, err := NewSingleInstance(addr)
	require.NoError(t, err)
	defer first.Close()

	_, err = NewSingleInstance(addr)
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running), "got %v", err)
	assert.Empty(t, running.DashboardURL)
}

func TestSingleInstanceIgnoresUnknownRequests(t *testing.T) {
	addr := freeAddr(t)

	first, err := NewSingleInstance(addr)
	require.NoError(t, err)
	defer first.Close()

	called := make(chan struct{}, 1)
	first.Serve("http://x/", func() { called <- struct{}{} })

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Write([]byte("hello\n"))
	conn.Close()

	select {
	case <-called:
		t.Fatal("unknown request must not show the dashboard")
	case <-time.After(100 * time.Millisecond):
	}
}
