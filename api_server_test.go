package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestDashboard(t *testing.T) *Dashboard {
	t.Helper()
	settingsService, err := NewSettingsService(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	dash, err := NewDashboard(testSettings(), settingsService, newTestDB(t))
	require.NoError(t, err)
	dash.ExportDir = t.TempDir()
	return dash
}

func doRequest(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPISampleAndHistory(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()
	dash.Telemetry.Ingest(RawRecord{Altitude: 12.5, GPSSpeed: 8})

	rec := doRequest(t, h, http.MethodGet, "/api/sample", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 12.5, s.Altitude)
	assert.Equal(t, 8.0, s.GroundSpeed)

	rec = doRequest(t, h, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistorySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, []float64{12.5}, hist.Altitude)
	assert.Equal(t, []float64{0}, hist.X)
}

func TestAPIStatus(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()
	dash.Telemetry.SetStatus(StatusSimulating)

	rec := doRequest(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"simulating"`)
}

func TestAPICommands(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()
	dash.Telemetry.Ingest(RawRecord{RollMad6: 2, PitchMad6: 3, YawMad6: 4})

	rec := doRequest(t, h, http.MethodPost, "/api/attitude/zero", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var offsets Attitude
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &offsets))
	assert.Equal(t, Attitude{Roll: -2, Pitch: 3, Yaw: 4}, offsets)

	rec = doRequest(t, h, http.MethodPost, "/api/history/clear", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, dash.Telemetry.History().Len())

	rec = doRequest(t, h, http.MethodGet, "/api/attitude/zero", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIPollWithoutFetcher(t *testing.T) {
	dash := newTestDashboard(t)
	dash.Telemetry.fetcher = nil
	h := NewAPIServer(dash).Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/poll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"polled":false}`, rec.Body.String())
}

func TestAPISnapshotFormats(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()
	dash.Telemetry.Ingest(RawRecord{Altitude: 3, Latitude: 35.3, Longitude: 136.2})

	rec := doRequest(t, h, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var js Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &js))
	assert.Equal(t, 3.0, js.Current.Altitude)
	assert.Len(t, js.Trajectory, 1)

	rec = doRequest(t, h, http.MethodGet, "/api/snapshot?format=msgpack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var mp Snapshot
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &mp))
	assert.Equal(t, 3.0, mp.Current.Altitude)
	assert.Equal(t, []float64{3}, mp.History.Altitude)
	assert.Equal(t, []TrackPoint{{Lat: 35.3, Lon: 136.2}}, mp.Trajectory)

	rec = doRequest(t, h, http.MethodGet, "/api/snapshot?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPITrajectory(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/trajectory/enabled", bytes.NewBufferString(`{"enabled":false}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, dash.Trajectory.Enabled())

	dash.Telemetry.Ingest(RawRecord{Latitude: 35.3, Longitude: 136.2})
	assert.Empty(t, dash.Trajectory.Points())

	doRequest(t, h, http.MethodPost, "/api/trajectory/enabled", bytes.NewBufferString(`{"enabled":true}`))
	dash.Telemetry.Ingest(RawRecord{Latitude: 35.3, Longitude: 136.2})

	rec = doRequest(t, h, http.MethodGet, "/api/trajectory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"points":[{"lat":35.3,"lon":136.2}]`)

	rec = doRequest(t, h, http.MethodPost, "/api/trajectory/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, dash.Trajectory.Points())

	rec = doRequest(t, h, http.MethodPost, "/api/trajectory/enabled", bytes.NewBufferString(`nope`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRecording(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/recording/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session"`)

	rec = doRequest(t, h, http.MethodPost, "/api/recording/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	dash.Telemetry.Ingest(RawRecord{Altitude: 1})
	dash.Telemetry.Ingest(RawRecord{Altitude: 2})

	rec = doRequest(t, h, http.MethodPost, "/api/recording/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info RecordingInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.Recording)
	assert.Equal(t, 2, info.DataCount)

	rec = doRequest(t, h, http.MethodPost, "/api/recording/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exported struct {
		Path string `json:"path"`
		Rows int    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Equal(t, 2, exported.Rows)
	assert.Equal(t, dash.ExportDir, filepath.Dir(exported.Path))
	assert.FileExists(t, exported.Path)
}

func TestAPISettings(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"samplesPerSecond":3`)

	rec = doRequest(t, h, http.MethodPut, "/api/settings", bytes.NewBufferString(`{"samplesPerSecond":5}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, dash.Settings.GetSettings().SamplesPerSecond)
	assert.Equal(t, DefaultSettings().EndpointURL, dash.Settings.GetSettings().EndpointURL)

	rec = doRequest(t, h, http.MethodPut, "/api/settings", bytes.NewBufferString(`{"samplesPerSecond":0}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5, dash.Settings.GetSettings().SamplesPerSecond)
}

func TestAPIInfo(t *testing.T) {
	dash := newTestDashboard(t)
	h := NewAPIServer(dash).Handler()
	dash.Telemetry.Ingest(RawRecord{Latitude: 35, Longitude: 136})
	dash.Telemetry.Ingest(RawRecord{Latitude: 35.001, Longitude: 136})

	rec := doRequest(t, h, http.MethodGet, "/api/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
	assert.Equal(t, "2", info["samples"])
	assert.Equal(t, "111.2 m", info["distance"])
	assert.Equal(t, float64(2), info["historyDepth"])
}
