package main

import (
	"fmt"
	"sync"
)

// Channel names a tracked history sequence.
type Channel string

const (
	ChannelAltitude    Channel = "altitude"
	ChannelRPM         Channel = "rpm"
	ChannelAirspeed    Channel = "airspeed"
	ChannelGroundSpeed Channel = "groundSpeed"
	ChannelRoll        Channel = "roll"
	ChannelPitch       Channel = "pitch"
)

var trackedChannels = [...]Channel{
	ChannelAltitude, ChannelRPM, ChannelAirspeed,
	ChannelGroundSpeed, ChannelRoll, ChannelPitch,
}

func (c Channel) value(s Sample) float64 {
	switch c {
	case ChannelAltitude:
		return s.Altitude
	case ChannelRPM:
		return float64(s.RPM)
	case ChannelAirspeed:
		return s.Airspeed
	case ChannelGroundSpeed:
		return s.GroundSpeed
	case ChannelRoll:
		return s.Roll
	case ChannelPitch:
		return s.Pitch
	}
	return 0
}

// History keeps the most recent values of every tracked channel in
// fixed-capacity rings. All rings share head and length, so they are
// always the same size.
type History struct {
	mu       sync.RWMutex
	capacity int
	rate     float64
	rings    [len(trackedChannels)][]float64
	head     int // index of the oldest entry
	size     int
}

// HistoryCapacity is the number of samples that cover windowSeconds at
// samplesPerSecond, including the sample at t=0.
func HistoryCapacity(windowSeconds, samplesPerSecond int) int {
	return windowSeconds*samplesPerSecond + 1
}

func NewHistory(capacity, samplesPerSecond int) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid history capacity %d", capacity)
	}
	if samplesPerSecond <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", samplesPerSecond)
	}

	h := &History{capacity: capacity, rate: float64(samplesPerSecond)}
	for i := range h.rings {
		h.rings[i] = make([]float64, capacity)
	}
	return h, nil
}

func (h *History) Capacity() int {
	return h.capacity
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Push appends the tracked channels of s to every ring, evicting the
// oldest entry once the rings are full.
func (h *History) Push(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.head + h.size) % h.capacity
	for i, ch := range trackedChannels {
		h.rings[i][idx] = ch.value(s)
	}

	if h.size < h.capacity {
		h.size++
	} else {
		h.head = (h.head + 1) % h.capacity
	}
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.size = 0
}

// HistorySnapshot is a copy of the history, oldest first, with a shared
// time axis in seconds relative to the newest entry.
type HistorySnapshot struct {
	X           []float64 `json:"x" msgpack:"x"`
	Altitude    []float64 `json:"altitude" msgpack:"altitude"`
	RPM         []float64 `json:"rpm" msgpack:"rpm"`
	Airspeed    []float64 `json:"airspeed" msgpack:"airspeed"`
	GroundSpeed []float64 `json:"groundSpeed" msgpack:"groundSpeed"`
	Roll        []float64 `json:"roll" msgpack:"roll"`
	Pitch       []float64 `json:"pitch" msgpack:"pitch"`
}

// Len reports the number of entries in the snapshot.
func (s HistorySnapshot) Len() int {
	return len(s.X)
}

// Channel returns the sequence for ch.
func (s HistorySnapshot) Channel(ch Channel) []float64 {
	switch ch {
	case ChannelAltitude:
		return s.Altitude
	case ChannelRPM:
		return s.RPM
	case ChannelAirspeed:
		return s.Airspeed
	case ChannelGroundSpeed:
		return s.GroundSpeed
	case ChannelRoll:
		return s.Roll
	case ChannelPitch:
		return s.Pitch
	}
	return nil
}

func (h *History) Snapshot() HistorySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.size
	var out [len(trackedChannels)][]float64
	for i := range h.rings {
		seq := make([]float64, n)
		for j := 0; j < n; j++ {
			seq[j] = h.rings[i][(h.head+j)%h.capacity]
		}
		out[i] = seq
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i-(n-1)) / h.rate
	}

	return HistorySnapshot{
		X:           x,
		Altitude:    out[0],
		RPM:         out[1],
		Airspeed:    out[2],
		GroundSpeed: out[3],
		Roll:        out[4],
		Pitch:       out[5],
	}
}
