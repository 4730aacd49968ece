package main

import (
	"math"
	"sync"
)

const (
	earthRadiusMeters   = 6371000.0
	maxTrajectoryPoints = 1000
)

// TrackPoint is one recorded position.
type TrackPoint struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// haversine returns the great-circle distance in meters.
func haversine(a, b TrackPoint) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// TrajectoryTracker records the flown track from the sample stream.
type TrajectoryTracker struct {
	mu      sync.RWMutex
	enabled bool
	points  []TrackPoint
}

func NewTrajectoryTracker() *TrajectoryTracker {
	return &TrajectoryTracker{enabled: true}
}

func (t *TrajectoryTracker) OnSample(s Sample) {
	// (0,0) means the receiver has no fix yet.
	if s.Latitude == 0 && s.Longitude == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}

	t.points = append(t.points, TrackPoint{Lat: s.Latitude, Lon: s.Longitude})
	if len(t.points) > maxTrajectoryPoints {
		t.points = append(t.points[:0:0], t.points[len(t.points)-maxTrajectoryPoints:]...)
	}
}

func (t *TrajectoryTracker) OnStatus(Status) {}

func (t *TrajectoryTracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *TrajectoryTracker) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *TrajectoryTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = nil
}

func (t *TrajectoryTracker) Points() []TrackPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackPoint, len(t.points))
	copy(out, t.points)
	return out
}

// DistanceMeters is the length of the recorded track.
func (t *TrajectoryTracker) DistanceMeters() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for i := 1; i < len(t.points); i++ {
		total += haversine(t.points[i-1], t.points[i])
	}
	return total
}
