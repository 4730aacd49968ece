package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	singleInstanceAddr = "127.0.0.1:49877"
	showRequest        = "show"
	handshakeTimeout   = 2 * time.Second
)

// AlreadyRunningError is returned to a second launch. DashboardURL is where
// the running instance serves its dashboard, empty if it is still starting.
type AlreadyRunningError struct {
	DashboardURL string
}

func (e *AlreadyRunningError) Error() string {
	if e.DashboardURL == "" {
		return "another instance is already running"
	}
	return fmt.Sprintf("another instance is already running at %s", e.DashboardURL)
}

// SingleInstance makes sure only one dashboard polls the endpoint. A second
// launch asks the running instance to open its dashboard, learns the
// dashboard URL and exits.
type SingleInstance struct {
	listener net.Listener

	mu           sync.Mutex
	dashboardURL string
	onShow       func()
}

func NewSingleInstance(addr string) (*SingleInstance, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		url, askErr := askRunningInstance(addr)
		if askErr != nil {
			return nil, fmt.Errorf("claim instance lock %s: %w", addr, err)
		}
		return nil, &AlreadyRunningError{DashboardURL: url}
	}

	si := &SingleInstance{listener: listener}
	go si.listenLoop()
	return si, nil
}

// askRunningInstance sends a show request and returns the dashboard URL the
// running instance replies with.
func askRunningInstance(addr string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	if _, err := fmt.Fprintln(conn, showRequest); err != nil {
		return "", fmt.Errorf("send show request: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// Serve publishes the dashboard URL to later launches and calls onShow
// whenever one of them starts.
func (si *SingleInstance) Serve(dashboardURL string, onShow func()) {
	si.mu.Lock()
	si.dashboardURL = dashboardURL
	si.onShow = onShow
	si.mu.Unlock()
}

func (si *SingleInstance) Close() {
	si.listener.Close()
}

func (si *SingleInstance) listenLoop() {
	for {
		conn, err := si.listener.Accept()
		if err != nil {
			return
		}
		si.handle(conn)
	}
}

func (si *SingleInstance) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != showRequest {
		return
	}

	si.mu.Lock()
	url, fn := si.dashboardURL, si.onShow
	si.mu.Unlock()

	fmt.Fprintln(conn, url)
	slog.Info("second instance started, showing dashboard", "url", url)
	if fn != nil {
		fn()
	}
}
