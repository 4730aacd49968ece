package main

import (
	"math/rand/v2"
	"sync"
	"time"
)

// BoundingBox limits the positions the simulator produces.
type BoundingBox struct {
	LatMin float64 `json:"latMin" yaml:"latMin"`
	LatMax float64 `json:"latMax" yaml:"latMax"`
	LonMin float64 `json:"lonMin" yaml:"lonMin"`
	LonMax float64 `json:"lonMax" yaml:"lonMax"`
}

func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Simulator produces plausible records while the endpoint is unreachable.
type Simulator struct {
	bounds BoundingBox
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(bounds BoundingBox, seed uint64) *Simulator {
	return &Simulator{
		bounds: bounds,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Next returns a fully populated record. Its values go through the same
// ingest path as real data.
func (s *Simulator) Next() RawRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	uniform := func(lo, hi float64) Number {
		return Number(lo + s.rng.Float64()*(hi-lo))
	}
	symmetric := func(span float64) Number {
		return Number((s.rng.Float64() - 0.5) * span)
	}

	now := s.now()
	return RawRecord{
		Latitude:               uniform(s.bounds.LatMin, s.bounds.LatMax),
		Longitude:              uniform(s.bounds.LonMin, s.bounds.LonMax),
		Altitude:               uniform(0, 10),
		GPSAltitude:            uniform(0, 100),
		GPSCourse:              uniform(0, 360),
		GPSSpeed:               uniform(0, 10),
		AirSpeed:               uniform(0, 10),
		PropellerRotationSpeed: Number(s.rng.IntN(200)),
		YawMad6:                uniform(0, 360),
		RollMad6:               symmetric(10),
		PitchMad6:              symmetric(10),
		Temperature:            uniform(20, 30),
		Elevator:               symmetric(20),
		Rudder:                 symmetric(20),
		Trim:                   symmetric(10),
		Date:                   Text(now.Format("2006/01/02")),
		Time:                   Text(now.Format("15:04:05")),
	}
}
