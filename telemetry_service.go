package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Listener receives copies of every ingested sample and every status change.
// Calls happen in ingest order on the goroutine that ingested the sample;
// a listener must not call Ingest itself.
type Listener interface {
	OnSample(Sample)
	OnStatus(Status)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Sample func(Sample)
	Status func(Status)
}

func (l ListenerFuncs) OnSample(s Sample) {
	if l.Sample != nil {
		l.Sample(s)
	}
}

func (l ListenerFuncs) OnStatus(st Status) {
	if l.Status != nil {
		l.Status(st)
	}
}

// AuxiliaryRefresher refreshes slow-changing side data such as surface wind.
type AuxiliaryRefresher interface {
	RefreshAuxiliary(ctx context.Context) error
}

// WithFetcher sets the polled data source. Without one the poll timer is
// not started and samples only arrive through Ingest.
func WithFetcher(f Fetcher) func(*TelemetryService) {
	return func(s *TelemetryService) {
		s.fetcher = f
	}
}

// WithSimulator replaces the fallback generator.
func WithSimulator(sim *Simulator) func(*TelemetryService) {
	return func(s *TelemetryService) {
		s.simulator = sim
	}
}

// WithAuxiliaryRefresher installs the low-frequency refresh hook.
func WithAuxiliaryRefresher(a AuxiliaryRefresher) func(*TelemetryService) {
	return func(s *TelemetryService) {
		s.aux = a
	}
}

// WithClock overrides the time source used to stamp samples.
func WithClock(now func() time.Time) func(*TelemetryService) {
	return func(s *TelemetryService) {
		s.now = now
	}
}

type listenerEntry struct {
	id int
	l  Listener
}

// ServiceStats counts what the acquisition loop has done so far.
type ServiceStats struct {
	Ingested     uint64 `json:"ingested"`
	Simulated    uint64 `json:"simulated"`
	DroppedPolls uint64 `json:"droppedPolls"`
}

// TelemetryService owns the current sample, its rolling history and the
// attitude offsets. It polls the fetcher on a fixed tick and substitutes
// simulated records whenever a fetch fails.
type TelemetryService struct {
	fetcher   Fetcher
	simulator *Simulator
	history   *History
	aux       AuxiliaryRefresher
	now       func() time.Time

	pollInterval time.Duration
	auxInterval  time.Duration

	mu        sync.Mutex
	current   Sample
	rawAtt    Attitude
	offsets   Attitude
	status    Status
	updating  bool
	closed    bool
	listeners []listenerEntry
	nextID    int
	stats     ServiceStats

	// ingestMu keeps state mutation and notification in one ordered step.
	ingestMu sync.Mutex
	polls    sync.WaitGroup
}

func NewTelemetryService(settings Settings, options ...func(*TelemetryService)) (*TelemetryService, error) {
	history, err := NewHistory(HistoryCapacity(settings.WindowSeconds, settings.SamplesPerSecond), settings.SamplesPerSecond)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}

	s := &TelemetryService{
		history:      history,
		now:          time.Now,
		pollInterval: settings.PollInterval(),
		auxInterval:  settings.AuxInterval(),
		status:       StatusDisconnected,
		current:      Sample{Date: "-", Time: "-"},
	}

	for _, option := range options {
		option(s)
	}

	if s.simulator == nil {
		s.simulator = NewSimulator(settings.Bounds, uint64(time.Now().UnixNano()))
	}
	return s, nil
}

// Subscribe registers l and returns a function that removes it again.
func (s *TelemetryService) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, l: l})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// listenersLocked returns a copy of the listener list. Must be called with mu held.
func (s *TelemetryService) listenersLocked() []Listener {
	out := make([]Listener, len(s.listeners))
	for i, e := range s.listeners {
		out[i] = e.l
	}
	return out
}

// Run drives the poll and auxiliary timers until ctx is done. The service
// is closed when Run returns.
func (s *TelemetryService) Run(ctx context.Context) error {
	var pollC <-chan time.Time
	if s.fetcher != nil {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		pollC = ticker.C

		slog.Info("telemetry polling started", "source", s.fetcher.Name(), "interval", s.pollInterval)
		s.startPoll(ctx)
	}

	aux := time.NewTicker(s.auxInterval)
	defer aux.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			s.polls.Wait()
			slog.Info("telemetry service stopped")
			return nil
		case <-pollC:
			s.startPoll(ctx)
		case <-aux.C:
			s.refreshAuxiliary(ctx)
		}
	}
}

func (s *TelemetryService) startPoll(ctx context.Context) {
	s.polls.Add(1)
	go func() {
		defer s.polls.Done()
		s.Poll(ctx)
	}()
}

// Poll fetches one record and ingests it, or ingests a simulated record
// when the fetch fails. It returns false without side effects when another
// poll is still outstanding or the service is shutting down.
func (s *TelemetryService) Poll(ctx context.Context) bool {
	s.mu.Lock()
	if s.updating || s.closed || s.fetcher == nil {
		if s.updating {
			s.stats.DroppedPolls++
		}
		s.mu.Unlock()
		return false
	}
	s.updating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.updating = false
		s.mu.Unlock()
	}()

	rec, err := s.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("telemetry fetch failed, using simulated data", "source", s.fetcher.Name(), "error", err)
		s.setStatus(StatusSimulating)
		s.ingest(s.simulator.Next(), true)
		return true
	}

	s.setStatus(StatusConnected)
	s.ingest(*rec, false)
	return true
}

// Ingest applies the attitude offsets to rec, records it in the history and
// publishes the resulting sample. It reports false once the service is closed.
func (s *TelemetryService) Ingest(rec RawRecord) bool {
	return s.ingest(rec, false)
}

func (s *TelemetryService) ingest(rec RawRecord, simulated bool) bool {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	raw := rec.rawAttitude()
	sample := rec.toSample(raw.sub(s.offsets), s.now())
	s.rawAtt = raw
	s.current = sample
	s.history.Push(sample)

	s.stats.Ingested++
	if simulated {
		s.stats.Simulated++
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnSample(sample)
	}
	return true
}

// SetStatus reports a source status change. Listeners are only notified
// when the status actually changes.
func (s *TelemetryService) SetStatus(st Status) {
	s.setStatus(st)
}

func (s *TelemetryService) setStatus(st Status) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	if s.closed || s.status == st {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = st
	listeners := s.listenersLocked()
	s.mu.Unlock()

	slog.Info("telemetry status changed", "from", prev, "to", st)
	for _, l := range listeners {
		l.OnStatus(st)
	}
}

func (s *TelemetryService) refreshAuxiliary(ctx context.Context) {
	if s.aux == nil {
		slog.Debug("auxiliary refresh skipped, no refresher configured")
		return
	}
	if err := s.aux.RefreshAuxiliary(ctx); err != nil {
		slog.Warn("auxiliary refresh failed", "error", err)
	}
}

// ResetAttitudeOffsets captures the last raw attitude so that the next
// reading at the same attitude is zero. Past history is left alone.
func (s *TelemetryService) ResetAttitudeOffsets() {
	s.mu.Lock()
	s.offsets = s.rawAtt
	offsets := s.offsets
	s.mu.Unlock()

	slog.Info("attitude offsets reset", "roll", offsets.Roll, "pitch", offsets.Pitch, "yaw", offsets.Yaw)
}

func (s *TelemetryService) ClearHistory() {
	s.history.Clear()
	slog.Info("history cleared")
}

func (s *TelemetryService) Current() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *TelemetryService) History() HistorySnapshot {
	return s.history.Snapshot()
}

// HistoryLen reports how many entries the history holds without copying it.
func (s *TelemetryService) HistoryLen() int {
	return s.history.Len()
}

func (s *TelemetryService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *TelemetryService) Offsets() Attitude {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets
}

func (s *TelemetryService) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the service from accepting further samples. Completions of
// requests that were in flight are discarded.
func (s *TelemetryService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
