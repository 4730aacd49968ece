package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SourcePoll   = "poll"
	SourceStream = "stream"
)

type Settings struct {
	EndpointURL        string      `json:"endpointURL" yaml:"endpointURL"`
	Source             string      `json:"source" yaml:"source"`
	StreamURL          string      `json:"streamURL" yaml:"streamURL"`
	SamplesPerSecond   int         `json:"samplesPerSecond" yaml:"samplesPerSecond"`
	WindowSeconds      int         `json:"windowSeconds" yaml:"windowSeconds"`
	AuxIntervalSeconds int         `json:"auxIntervalSeconds" yaml:"auxIntervalSeconds"`
	FetchTimeoutMs     int         `json:"fetchTimeoutMs" yaml:"fetchTimeoutMs"`
	Bounds             BoundingBox `json:"bounds" yaml:"bounds"`
	ListenAddr         string      `json:"listenAddr" yaml:"listenAddr"`
	OpenBrowser        bool        `json:"openBrowser" yaml:"openBrowser"`
	LogLevel           string      `json:"logLevel" yaml:"logLevel"`
	LogDir             string      `json:"logDir" yaml:"logDir"`
	UpdateRepo         string      `json:"updateRepo" yaml:"updateRepo"`
	DBPath             string      `json:"dbPath" yaml:"dbPath"`
}

func DefaultSettings() Settings {
	return Settings{
		EndpointURL:        "http://127.0.0.1:8089/latest",
		Source:             SourcePoll,
		StreamURL:          "ws://127.0.0.1:8089/stream",
		SamplesPerSecond:   3,
		WindowSeconds:      20,
		AuxIntervalSeconds: 60,
		FetchTimeoutMs:     5000,
		Bounds: BoundingBox{
			LatMin: 35.2191,
			LatMax: 35.42,
			LonMin: 136.097,
			LonMax: 136.279,
		},
		ListenAddr:  "127.0.0.1:8088",
		OpenBrowser: true,
		LogLevel:    "info",
	}
}

// PollInterval is the period of the primary poll timer.
func (s Settings) PollInterval() time.Duration {
	return time.Second / time.Duration(s.SamplesPerSecond)
}

func (s Settings) AuxInterval() time.Duration {
	return time.Duration(s.AuxIntervalSeconds) * time.Second
}

func (s Settings) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutMs) * time.Millisecond
}

func (s Settings) Validate() error {
	switch s.Source {
	case SourcePoll:
		if _, err := url.ParseRequestURI(s.EndpointURL); err != nil {
			return fmt.Errorf("invalid endpointURL %q: %w", s.EndpointURL, err)
		}
	case SourceStream:
		u, err := url.ParseRequestURI(s.StreamURL)
		if err != nil {
			return fmt.Errorf("invalid streamURL %q: %w", s.StreamURL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid streamURL %q: scheme must be ws or wss", s.StreamURL)
		}
	default:
		return fmt.Errorf("unknown source %q", s.Source)
	}

	if s.SamplesPerSecond <= 0 || s.SamplesPerSecond > 50 {
		return fmt.Errorf("samplesPerSecond must be in 1..50, got %d", s.SamplesPerSecond)
	}
	if s.WindowSeconds <= 0 {
		return fmt.Errorf("windowSeconds must be positive, got %d", s.WindowSeconds)
	}
	if s.AuxIntervalSeconds <= 0 {
		return fmt.Errorf("auxIntervalSeconds must be positive, got %d", s.AuxIntervalSeconds)
	}
	if s.FetchTimeoutMs <= 0 {
		return fmt.Errorf("fetchTimeoutMs must be positive, got %d", s.FetchTimeoutMs)
	}
	if s.Bounds.LatMin >= s.Bounds.LatMax || s.Bounds.LonMin >= s.Bounds.LonMax {
		return fmt.Errorf("invalid bounds %+v", s.Bounds)
	}
	return nil
}

type SettingsService struct {
	mu       sync.RWMutex
	settings Settings
	filePath string
}

// NewSettingsService loads settings from path, or from the user config
// directory when path is empty. A missing file leaves the defaults.
func NewSettingsService(path string) (*SettingsService, error) {
	if path == "" {
		configDir, _ := os.UserConfigDir()
		path = filepath.Join(configDir, "flight-telemetry", "settings.json")
	}

	s := &SettingsService{
		filePath: path,
		settings: DefaultSettings(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SettingsService) GetSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *SettingsService) UpdateSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *SettingsService) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.filePath))
	return ext == ".yaml" || ext == ".yml"
}

func (s *SettingsService) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}

	if s.isYAML() {
		err = yaml.Unmarshal(data, &s.settings)
	} else {
		err = json.Unmarshal(data, &s.settings)
	}
	if err != nil {
		return fmt.Errorf("parse settings %s: %w", s.filePath, err)
	}
	return nil
}

func (s *SettingsService) save() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	var err error
	if s.isYAML() {
		data, err = yaml.Marshal(s.settings)
	} else {
		data, err = json.MarshalIndent(s.settings, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return os.WriteFile(s.filePath, data, 0o644)
}
