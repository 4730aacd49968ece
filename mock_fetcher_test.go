package main

import (
	"context"
	"fmt"
	"sync"
)

// MockFetcher implements Fetcher for use in tests.
type MockFetcher struct {
	mu    sync.Mutex
	rec   *RawRecord
	err   error
	calls int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Fetch(ctx context.Context) (*RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.rec == nil {
		return nil, fmt.Errorf("no data")
	}
	rec := *m.rec
	return &rec, nil
}

func (m *MockFetcher) SetRecord(rec RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.err = nil
}

func (m *MockFetcher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BlockingFetcher holds every Fetch until release is closed or ctx is done.
type BlockingFetcher struct {
	rec     RawRecord
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewBlockingFetcher(rec RawRecord) *BlockingFetcher {
	return &BlockingFetcher{
		rec:     rec,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *BlockingFetcher) Name() string { return "blocking" }

func (b *BlockingFetcher) Fetch(ctx context.Context) (*RawRecord, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		rec := b.rec
		return &rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recordingListener captures every notification it receives.
type recordingListener struct {
	mu       sync.Mutex
	samples  []Sample
	statuses []Status
}

func (r *recordingListener) OnSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingListener) OnStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recordingListener) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

func (r *recordingListener) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

// testSettings returns valid settings with a fast poll rate.
func testSettings() Settings {
	s := DefaultSettings()
	s.SamplesPerSecond = 20
	s.WindowSeconds = 1
	return s
}
