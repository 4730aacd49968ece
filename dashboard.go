package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
)

// Dashboard is the application context: one acquisition core plus the
// listeners and commands the renderers use. Everything hangs off this value
// rather than package globals.
type Dashboard struct {
	Settings    *SettingsService
	Telemetry   *TelemetryService
	Stream      *StreamSource
	Broadcaster *Broadcaster
	Trajectory  *TrajectoryTracker
	Recorder    *Recorder
	ExportDir   string

	unsubscribe []func()
}

// NewDashboard wires the acquisition core for settings. settingsService is
// only used by the settings endpoints; settings may differ from what it has
// stored (demo mode points the endpoints at the mock server).
func NewDashboard(settings Settings, settingsService *SettingsService, db *sql.DB) (*Dashboard, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var options []func(*TelemetryService)
	if settings.Source == SourcePoll {
		options = append(options, WithFetcher(NewHTTPFetcher(settings.EndpointURL, settings.FetchTimeout())))
	}

	telemetry, err := NewTelemetryService(settings, options...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry service: %w", err)
	}

	d := &Dashboard{
		Settings:    settingsService,
		Telemetry:   telemetry,
		Broadcaster: NewBroadcaster(telemetry),
		Trajectory:  NewTrajectoryTracker(),
		Recorder:    NewRecorder(db),
		ExportDir:   os.TempDir(),
	}
	if settings.Source == SourceStream {
		d.Stream = NewStreamSource(settings.StreamURL, telemetry)
	}

	for _, l := range []Listener{d.Broadcaster, d.Trajectory, d.Recorder} {
		d.unsubscribe = append(d.unsubscribe, telemetry.Subscribe(l))
	}
	return d, nil
}

// Run acquires telemetry until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Telemetry.Run(ctx)
	})
	if d.Stream != nil {
		g.Go(func() error {
			slog.Info("telemetry stream source selected", "url", d.Stream.Name())
			return d.Stream.Run(ctx)
		})
	}

	err := g.Wait()
	for _, unsubscribe := range d.unsubscribe {
		unsubscribe()
	}
	d.unsubscribe = nil
	d.Recorder.StopRecording()
	return err
}
