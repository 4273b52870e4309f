// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
)

// Config points the updater at a GitHub repository. Version is the running
// build's semver tag.
type Config struct {
	Repository string
	Version    string
}

// Updater swaps the running fetcharr binary for the newest GitHub release
// asset matching this platform.
type Updater struct {
	config Config
}

func NewUpdater(config Config) *Updater {
	return &Updater{
		config: config,
	}
}

// Run downloads and installs an updated binary when a newer release is
// available. It returns true when an update was applied. Container and
// Windows environments refuse up front: package managers and image pulls own
// the binary there.
func (u *Updater) Run(ctx context.Context) (bool, error) {
	_, err := semver.NewVersion(u.config.Version)
	if err != nil {
		return false, fmt.Errorf("could not parse version: %w", err)
	}

	if !isSelfUpdateSupportedPlatform() || isRunningInContainer() {
		return false, ErrSelfUpdateUnsupported
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(u.config.Repository))
	if err != nil {
		return false, fmt.Errorf("failed to check %s for releases: %w", u.config.Repository, err)
	}
	if !found {
		return false, fmt.Errorf("no release with a %s/%s asset found in %s", runtime.GOOS, runtime.GOARCH, u.config.Repository)
	}

	if latest.LessOrEqual(u.config.Version) {
		fmt.Printf("fetcharr %s is already the latest release\n", u.config.Version)
		return false, nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return false, fmt.Errorf("could not locate executable path: %w", err)
	}

	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return false, fmt.Errorf("failed to install %s: %w", latest.Version(), err)
	}

	fmt.Printf("fetcharr updated to %s\n", latest.Version())
	return true, nil
}
