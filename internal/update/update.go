// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/fetcharr/pkg/version"
)

// Service periodically checks GitHub for a newer fetcharr release and caches
// the result for the version endpoint.
type Service struct {
	log            zerolog.Logger
	currentVersion string
	releaseChecker *version.Checker

	mu            sync.RWMutex
	isEnabled     bool
	latestRelease *version.Release
}

func NewService(log zerolog.Logger, enabled bool, currentVersion, userAgent string) *Service {
	return &Service{
		log:            log.With().Str("module", "update").Logger(),
		currentVersion: currentVersion,
		isEnabled:      enabled,
		releaseChecker: version.NewChecker("autobrr", "fetcharr", userAgent),
	}
}

// SetEnabled toggles update checking at runtime, following config reloads.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isEnabled = enabled
}

func (s *Service) enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isEnabled
}

// GetLatestRelease returns the most recently discovered newer release, or
// nil when up to date or no check has run yet.
func (s *Service) GetLatestRelease(ctx context.Context) *version.Release {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestRelease
}

// CheckUpdates performs one check, caching the release when one is newer.
func (s *Service) CheckUpdates(ctx context.Context) {
	if !s.enabled() {
		return
	}

	newAvailable, release, err := s.releaseChecker.CheckNewVersion(ctx, s.currentVersion)
	if err != nil {
		s.log.Error().Err(err).Msg("could not check for new release")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !newAvailable {
		s.latestRelease = nil
		return
	}

	s.log.Info().Msgf("a new release has been found: %v", release.TagName)
	s.latestRelease = release
}

// Start runs an immediate check and then re-checks every 2 hours until the
// context is cancelled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		s.CheckUpdates(ctx)

		ticker := time.NewTicker(2 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.CheckUpdates(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
