package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
)

var Version = "dev"

type UpdateInfo struct {
	CurrentVersion  string `json:"currentVersion"`
	LatestVersion   string `json:"latestVersion"`
	UpdateAvailable bool   `json:"updateAvailable"`
	ReleaseURL      string `json:"releaseURL"`
}

type UpdateService struct {
	repo string
}

func NewUpdateService(repo string) *UpdateService {
	return &UpdateService{repo: repo}
}

// parsedVersion returns nil for dev builds and unparsable versions.
func parsedVersion() *semver.Version {
	if Version == "dev" {
		return nil
	}
	v, err := semver.NewVersion(Version)
	if err != nil {
		return nil
	}
	return v
}

func (s *UpdateService) isStableRelease() bool {
	v := parsedVersion()
	return v != nil && v.Prerelease() == ""
}

func (s *UpdateService) comparableVersion() string {
	v := parsedVersion()
	if v == nil {
		return "0.0.0"
	}
	return v.String()
}

func (s *UpdateService) newUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("create github source: %w", err)
	}

	cfg := selfupdate.Config{
		Source: source,
		// dev and prerelease builds see prereleases too
		Prerelease: !s.isStableRelease(),
	}

	updater, err := selfupdate.NewUpdater(cfg)
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}
	return updater, nil
}

func (s *UpdateService) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if s.repo == "" {
		return nil, fmt.Errorf("no update repository configured")
	}

	updater, err := s.newUpdater()
	if err != nil {
		return nil, err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(s.repo))
	if err != nil {
		return nil, fmt.Errorf("detect latest version: %w", err)
	}

	info := &UpdateInfo{CurrentVersion: Version}
	if found {
		info.LatestVersion = latest.Version()
		info.ReleaseURL = latest.URL
		info.UpdateAvailable = latest.GreaterThan(s.comparableVersion())
	}

	slog.Info("update check complete", "current", Version, "latest", info.LatestVersion, "available", info.UpdateAvailable)
	return info, nil
}
