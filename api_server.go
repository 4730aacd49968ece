package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is everything a renderer needs to redraw from scratch.
type Snapshot struct {
	Timestamp      time.Time       `json:"timestamp" msgpack:"timestamp"`
	Status         Status          `json:"status" msgpack:"status"`
	Current        Sample          `json:"current" msgpack:"current"`
	History        HistorySnapshot `json:"history" msgpack:"history"`
	Trajectory     []TrackPoint    `json:"trajectory" msgpack:"trajectory"`
	DistanceMeters float64         `json:"distanceMeters" msgpack:"distanceMeters"`
}

// APIServer exposes the acquisition core to browser renderers.
type APIServer struct {
	dash  *Dashboard
	start time.Time
}

func NewAPIServer(dash *Dashboard) *APIServer {
	return &APIServer{dash: dash, start: time.Now()}
}

func (a *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sample", a.handleSample)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/snapshot", a.handleSnapshot)
	mux.HandleFunc("GET /api/info", a.handleInfo)
	mux.HandleFunc("POST /api/attitude/zero", a.handleZeroAttitude)
	mux.HandleFunc("POST /api/history/clear", a.handleClearHistory)
	mux.HandleFunc("POST /api/poll", a.handlePoll)

	mux.HandleFunc("GET /api/trajectory", a.handleTrajectory)
	mux.HandleFunc("POST /api/trajectory/reset", a.handleTrajectoryReset)
	mux.HandleFunc("POST /api/trajectory/enabled", a.handleTrajectoryEnabled)

	mux.HandleFunc("GET /api/recording", a.handleRecordingInfo)
	mux.HandleFunc("POST /api/recording/start", a.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", a.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/export", a.handleRecordingExport)

	mux.HandleFunc("GET /api/settings", a.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", a.handlePutSettings)

	mux.Handle("GET /api/events", a.dash.Broadcaster)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *APIServer) snapshot() Snapshot {
	svc := a.dash.Telemetry
	return Snapshot{
		Timestamp:      time.Now().UTC(),
		Status:         svc.Status(),
		Current:        svc.Current(),
		History:        svc.History(),
		Trajectory:     a.dash.Trajectory.Points(),
		DistanceMeters: a.dash.Trajectory.DistanceMeters(),
	}
}

func (a *APIServer) handleSample(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dash.Telemetry.Current())
}

func (a *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dash.Telemetry.History())
}

func (a *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  a.dash.Telemetry.Status(),
		"offsets": a.dash.Telemetry.Offsets(),
	})
}

func (a *APIServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := a.snapshot()

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, snap)
	case "msgpack":
		data, err := msgpack.Marshal(&snap)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("encode snapshot: %w", err))
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", r.URL.Query().Get("format")))
	}
}

func (a *APIServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := a.dash.Telemetry.Stats()
	distance := a.dash.Trajectory.DistanceMeters()
	recording := a.dash.Recorder.Info()

	writeJSON(w, http.StatusOK, map[string]any{
		"version":       Version,
		"started":       humanize.Time(a.start),
		"stats":         stats,
		"samples":       humanize.Comma(int64(stats.Ingested)),
		"clients":       a.dash.Broadcaster.ClientCount(),
		"droppedEvents": a.dash.Broadcaster.Dropped(),
		"trajectory":    len(a.dash.Trajectory.Points()),
		"distance":      humanize.SIWithDigits(math.Round(distance*10)/10, 1, "m"),
		"recording":     recording,
		"historyDepth":  a.dash.Telemetry.HistoryLen(),
	})
}

func (a *APIServer) handleZeroAttitude(w http.ResponseWriter, r *http.Request) {
	a.dash.Telemetry.ResetAttitudeOffsets()
	writeJSON(w, http.StatusOK, a.dash.Telemetry.Offsets())
}

func (a *APIServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	a.dash.Telemetry.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (a *APIServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	polled := a.dash.Telemetry.Poll(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"polled": polled})
}

func (a *APIServer) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        a.dash.Trajectory.Enabled(),
		"points":         a.dash.Trajectory.Points(),
		"distanceMeters": a.dash.Trajectory.DistanceMeters(),
	})
}

func (a *APIServer) handleTrajectoryReset(w http.ResponseWriter, r *http.Request) {
	a.dash.Trajectory.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *APIServer) handleTrajectoryEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse body: %w", err))
		return
	}
	a.dash.Trajectory.SetEnabled(body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (a *APIServer) handleRecordingInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dash.Recorder.Info())
}

func (a *APIServer) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	session, err := a.dash.Recorder.StartRecording()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": session})
}

func (a *APIServer) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	a.dash.Recorder.StopRecording()
	writeJSON(w, http.StatusOK, a.dash.Recorder.Info())
}

// handleRecordingExport writes the recording to a CSV file next to the
// database; the file name is chosen by the server.
func (a *APIServer) handleRecordingExport(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("flight_data_%s.csv", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(a.dash.ExportDir, name)

	n, err := a.dash.Recorder.ExportCSV(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "rows": n})
}

func (a *APIServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dash.Settings.GetSettings())
}

func (a *APIServer) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := a.dash.Settings.GetSettings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse settings: %w", err))
		return
	}
	if err := a.dash.Settings.UpdateSettings(settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Acquisition settings are read at startup.
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings, "restartRequired": true})
}
