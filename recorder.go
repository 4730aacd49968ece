package main

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "flight-telemetry", "recordings.db"), nil
}

func initDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; inserts queue behind an export instead of failing.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		ground_speed REAL,
		airspeed REAL,
		gps_altitude REAL,
		gps_course REAL,
		rpm INTEGER,
		temperature REAL,
		elevator REAL,
		rudder REAL,
		rudder_trim REAL,
		roll REAL,
		pitch REAL,
		yaw REAL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return db, nil
}

var csvHeader = []string{
	"session", "timestamp", "latitude", "longitude", "altitude", "ground_speed", "airspeed",
	"gps_altitude", "gps_course", "rpm", "temperature", "elevator", "rudder", "rudder_trim",
	"roll", "pitch", "yaw",
}

// RecordingInfo describes the recorder state.
type RecordingInfo struct {
	Recording bool    `json:"recording"`
	Session   string  `json:"session,omitempty"`
	Duration  float64 `json:"duration"`
	DataCount int     `json:"dataCount"`
}

// Recorder stores samples in SQLite while a recording is active.
type Recorder struct {
	db *sql.DB

	mu        sync.Mutex
	recording bool
	session   string
	startTime time.Time
	dataCount int
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) StartRecording() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", fmt.Errorf("already recording")
	}

	r.recording = true
	r.session = uuid.NewString()
	r.startTime = time.Now()
	r.dataCount = 0

	slog.Info("recording started", "session", r.session)
	return r.session, nil
}

func (r *Recorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	r.recording = false
	slog.Info("recording stopped", "session", r.session, "samples", r.dataCount)
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) Info() RecordingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RecordingInfo{
		Recording: r.recording,
		Session:   r.session,
		DataCount: r.dataCount,
	}
	if r.recording {
		info.Duration = time.Since(r.startTime).Seconds()
	}
	return info
}

// OnSample stores s while recording. The lock is held across the insert so
// the count always matches the table.
func (r *Recorder) OnSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}

	_, err := r.db.Exec(
		`INSERT INTO samples (session, timestamp, latitude, longitude, altitude, ground_speed, airspeed,
			gps_altitude, gps_course, rpm, temperature, elevator, rudder, rudder_trim, roll, pitch, yaw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, s.Timestamp.UTC().Format(time.RFC3339Nano), s.Latitude, s.Longitude, s.Altitude,
		s.GroundSpeed, s.Airspeed, s.GPSAltitude, s.GPSCourse, s.RPM, s.Temperature,
		s.ElevatorAngle, s.RudderAngle, s.RudderTrim, s.Roll, s.Pitch, s.Yaw,
	)
	if err != nil {
		slog.Error("failed to insert sample", "error", err)
		return
	}
	r.dataCount++
}

func (r *Recorder) OnStatus(Status) {}

// ExportCSV writes every recorded sample to filePath and purges the
// exported rows. Samples inserted while the export runs are kept.
func (r *Recorder) ExportCSV(filePath string) (int, error) {
	rows, err := r.db.Query(`SELECT id, session, timestamp, latitude, longitude, altitude, ground_speed, airspeed,
		gps_altitude, gps_course, rpm, temperature, elevator, rudder, rudder_trim, roll, pitch, yaw
		FROM samples ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	var lastID int64
	for rows.Next() {
		var id int64
		var session, ts string
		var rpm int64
		var vals [14]float64
		if err := rows.Scan(&id, &session, &ts,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6],
			&rpm,
			&vals[7], &vals[8], &vals[9], &vals[10], &vals[11], &vals[12], &vals[13]); err != nil {
			return n, fmt.Errorf("scan row: %w", err)
		}

		record := make([]string, 0, len(csvHeader))
		record = append(record, session, ts)
		for i, v := range vals {
			if i == 7 {
				record = append(record, strconv.FormatInt(rpm, 10))
			}
			record = append(record, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if err := w.Write(record); err != nil {
			return n, fmt.Errorf("write row: %w", err)
		}
		n++
		lastID = id
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}

	if _, err := r.db.Exec(`DELETE FROM samples WHERE id <= ?`, lastID); err != nil {
		return n, fmt.Errorf("purge db: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var remaining int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE session = ?`, r.session).Scan(&remaining); err != nil {
		return n, fmt.Errorf("count samples: %w", err)
	}
	r.dataCount = remaining

	slog.Info("recording exported", "path", filePath, "rows", n)
	return n, nil
}
