package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"
)

//go:embed all:frontend
var assets embed.FS

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("flight-telemetry", flag.ContinueOnError)
	configPath := flags.String("c", "", "path to settings file (.json, .yaml or .yml)")
	demo := flags.Bool("demo", false, "serve a synthetic flight from a local mock endpoint")
	checkUpdate := flags.Bool("check-update", false, "check for a newer release and exit")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Println(Version)
		return nil
	}

	settingsService, err := NewSettingsService(*configPath)
	if err != nil {
		return err
	}
	settings := settingsService.GetSettings()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	logger, logCloser, err := newLogger(settings.LogLevel, settings.LogDir, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *checkUpdate {
		info, err := NewUpdateService(settings.UpdateRepo).CheckForUpdate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("current %s, latest %s, update available: %t\n", info.CurrentVersion, info.LatestVersion, info.UpdateAvailable)
		return nil
	}

	instance, err := NewSingleInstance(singleInstanceAddr)
	if err != nil {
		var running *AlreadyRunningError
		if errors.As(err, &running) {
			slog.Info("dashboard already running", "url", running.DashboardURL)
			return nil
		}
		return err
	}
	defer instance.Close()

	if *demo {
		center := TrackPoint{
			Lat: (settings.Bounds.LatMin + settings.Bounds.LatMax) / 2,
			Lon: (settings.Bounds.LonMin + settings.Bounds.LonMax) / 2,
		}
		mock := NewMockTelemetryServer(center, settings.PollInterval())
		addr, err := mock.Start("127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("start mock telemetry server: %w", err)
		}
		defer mock.Close()

		settings.EndpointURL = "http://" + addr + "/latest"
		settings.StreamURL = "ws://" + addr + "/stream"
	}

	dbPath := settings.DBPath
	if dbPath == "" {
		if dbPath, err = defaultDBPath(); err != nil {
			return err
		}
	}
	db, err := initDB(dbPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	dash, err := NewDashboard(settings, settingsService, db)
	if err != nil {
		return err
	}
	dash.ExportDir = filepath.Dir(dbPath)

	static, err := fs.Sub(assets, "frontend")
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", NewAPIServer(dash).Handler())
	mux.Handle("/", http.FileServerFS(static))

	listener, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	dashboardURL := "http://" + listener.Addr().String() + "/"

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	openDashboard := func() {
		if err := browser.OpenURL(dashboardURL); err != nil {
			slog.Warn("failed to open browser", "url", dashboardURL, "error", err)
		}
	}
	instance.Serve(dashboardURL, openDashboard)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dash.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("dashboard listening", "url", dashboardURL, "source", settings.Source, "version", Version)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve dashboard: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if settings.OpenBrowser {
		openDashboard()
	}

	return g.Wait()
}
