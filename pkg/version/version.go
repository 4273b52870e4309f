// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package version checks GitHub for newer fetcharr releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Release is a minimal GitHub release representation.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
	Prerelease  bool      `json:"prerelease"`
	Draft       bool      `json:"draft"`
	PublishedAt time.Time `json:"published_at"`
}

// Checker queries the GitHub releases API for the latest published release.
type Checker struct {
	Owner     string
	Repo      string
	UserAgent string

	httpClient *http.Client
}

// NewChecker returns a Checker for the given repository.
func NewChecker(owner, repo, userAgent string) *Checker {
	return &Checker{
		Owner:     owner,
		Repo:      repo,
		UserAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// isDevelop reports whether the running version is a development build that
// should never be compared against released versions.
func isDevelop(version string) bool {
	switch version {
	case "", "dev", "develop", "main", "latest":
		return true
	}
	if strings.HasPrefix(version, "pr-") {
		return true
	}
	return strings.HasSuffix(version, "-dev") || strings.HasSuffix(version, "-develop")
}

// CheckNewVersion returns (true, release) when a newer release than the
// current version is published. Development builds always return false.
func (c *Checker) CheckNewVersion(ctx context.Context, currentVersion string) (bool, *Release, error) {
	if isDevelop(currentVersion) {
		return false, nil, nil
	}

	release, err := c.getLatestRelease(ctx)
	if err != nil {
		return false, nil, err
	}
	if release == nil || release.Draft || release.Prerelease {
		return false, nil, nil
	}

	newer, err := c.compareVersions(currentVersion, release.TagName)
	if err != nil {
		return false, nil, err
	}
	if !newer {
		return false, nil, nil
	}
	return true, release, nil
}

func (c *Checker) getLatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", c.Owner, c.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github release lookup returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode github release: %w", err)
	}
	return &release, nil
}

func (c *Checker) compareVersions(currentVersion, releaseTag string) (bool, error) {
	current, err := semver.NewVersion(strings.TrimPrefix(currentVersion, "v"))
	if err != nil {
		return false, fmt.Errorf("parse current version %q: %w", currentVersion, err)
	}
	latest, err := semver.NewVersion(strings.TrimPrefix(releaseTag, "v"))
	if err != nil {
		return false, fmt.Errorf("parse release tag %q: %w", releaseTag, err)
	}
	return latest.GreaterThan(current), nil
}
