package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sample is one fully populated snapshot of the aircraft state.
type Sample struct {
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Date      string    `json:"date" msgpack:"date"`
	Time      string    `json:"time" msgpack:"time"`

	Latitude    float64 `json:"latitude" msgpack:"latitude"`
	Longitude   float64 `json:"longitude" msgpack:"longitude"`
	Altitude    float64 `json:"altitude" msgpack:"altitude"`
	GroundSpeed float64 `json:"groundSpeed" msgpack:"groundSpeed"`
	Airspeed    float64 `json:"airspeed" msgpack:"airspeed"`
	GPSAltitude float64 `json:"gpsAltitude" msgpack:"gpsAltitude"`
	GPSCourse   float64 `json:"gpsCourse" msgpack:"gpsCourse"`
	RPM         int     `json:"rpm" msgpack:"rpm"`
	Temperature float64 `json:"temperature" msgpack:"temperature"`

	ElevatorAngle float64 `json:"elevatorAngle" msgpack:"elevatorAngle"`
	RudderAngle   float64 `json:"rudderAngle" msgpack:"rudderAngle"`
	RudderTrim    float64 `json:"rudderTrim" msgpack:"rudderTrim"`

	Roll  float64 `json:"roll" msgpack:"roll"`
	Pitch float64 `json:"pitch" msgpack:"pitch"`
	Yaw   float64 `json:"yaw" msgpack:"yaw"`
}

// Attitude groups the three axes that take part in the offset correction.
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

func (a Attitude) sub(b Attitude) Attitude {
	return Attitude{Roll: a.Roll - b.Roll, Pitch: a.Pitch - b.Pitch, Yaw: a.Yaw - b.Yaw}
}

// Status describes where the current samples come from.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusSimulating   Status = "simulating"
)

// Number is a float that decodes from a JSON number or a numeric string.
// Anything else (null, bool, object, garbage text) decodes to zero and
// never fails the surrounding document.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = Number(v)
	return nil
}

// Text is a string field that tolerates non-string JSON values.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = Text(n.String())
	}
	return nil
}

// RawRecord is the flat record published by the telemetry endpoint.
type RawRecord struct {
	Latitude               Number `json:"Latitude"`
	Longitude              Number `json:"Longitude"`
	Altitude               Number `json:"Altitude"`
	GPSAltitude            Number `json:"GPSAltitude"`
	GPSCourse              Number `json:"GPSCourse"`
	GPSSpeed               Number `json:"GPSSpeed"`
	AirSpeed               Number `json:"AirSpeed"`
	PropellerRotationSpeed Number `json:"PropellerRotationSpeed"`
	YawMad6                Number `json:"Yaw_Mad6"`
	RollMad6               Number `json:"Roll_Mad6"`
	PitchMad6              Number `json:"Pitch_Mad6"`
	Temperature            Number `json:"Temperature"`
	Elevator               Number `json:"Elevator"`
	Rudder                 Number `json:"Rudder"`
	Trim                   Number `json:"Trim"`
	Date                   Text   `json:"Date"`
	Time                   Text   `json:"Time"`
}

var errNotObject = errors.New("payload is not a JSON object")

// DecodeRawRecord parses a payload. Only a document that is not a JSON
// object is an error; individual fields default to zero.
func DecodeRawRecord(data []byte) (*RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotObject
	}

	var rec RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// rawAttitude is the attitude as reported, before offset correction.
// The IMU reports bank with the opposite sign to the displays.
func (r RawRecord) rawAttitude() Attitude {
	return Attitude{
		Roll:  0 - float64(r.RollMad6),
		Pitch: float64(r.PitchMad6),
		Yaw:   float64(r.YawMad6),
	}
}

// toSample maps wire names onto a Sample with the given corrected attitude.
func (r RawRecord) toSample(att Attitude, now time.Time) Sample {
	return Sample{
		Timestamp:     now,
		Date:          textOr(r.Date, "-"),
		Time:          textOr(r.Time, "-"),
		Latitude:      float64(r.Latitude),
		Longitude:     float64(r.Longitude),
		Altitude:      float64(r.Altitude),
		GroundSpeed:   float64(r.GPSSpeed),
		Airspeed:      float64(r.AirSpeed),
		GPSAltitude:   float64(r.GPSAltitude),
		GPSCourse:     float64(r.GPSCourse),
		RPM:           truncRPM(float64(r.PropellerRotationSpeed)),
		Temperature:   float64(r.Temperature),
		ElevatorAngle: float64(r.Elevator),
		RudderAngle:   float64(r.Rudder),
		RudderTrim:    float64(r.Trim),
		Roll:          att.Roll,
		Pitch:         att.Pitch,
		Yaw:           att.Yaw,
	}
}

// truncRPM drops the fraction. Values outside the int32 range are not a
// plausible rotation speed and read as zero.
func truncRPM(v float64) int {
	v = math.Trunc(v)
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0
	}
	return int(v)
}

func textOr(t Text, def string) string {
	if t == "" {
		return def
	}
	return string(t)
}
