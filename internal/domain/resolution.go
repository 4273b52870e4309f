// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// Resolution is the canonical vertical resolution of a release or target.
// Resolutions form a total order: 480p < 720p < 1080p < 2160p.
type Resolution string

const (
	Resolution480p  Resolution = "480p"
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution2160p Resolution = "2160p"
)

// Rank returns the position of the resolution in the total order.
// Unknown resolutions rank below everything.
func (r Resolution) Rank() int {
	switch r {
	case Resolution480p:
		return 1
	case Resolution720p:
		return 2
	case Resolution1080p:
		return 3
	case Resolution2160p:
		return 4
	}
	return 0
}

// Meets reports whether r satisfies the required minimum resolution.
func (r Resolution) Meets(required Resolution) bool {
	return r.Rank() >= required.Rank()
}

// IsValid reports whether r is a known resolution.
func (r Resolution) IsValid() bool {
	return r.Rank() > 0
}

// ParseResolution parses resolution strings leniently. Release names spell
// the same resolution many ways ("4K", "UHD", "2160p", "1080P"), so matching
// is by substring against the lowercased input.
func ParseResolution(s string) (Resolution, bool) {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "2160"), strings.Contains(l, "4k"), strings.Contains(l, "uhd"):
		return Resolution2160p, true
	case strings.Contains(l, "1080"):
		return Resolution1080p, true
	case strings.Contains(l, "720"):
		return Resolution720p, true
	case strings.Contains(l, "480"), strings.Contains(l, "sd"):
		return Resolution480p, true
	}
	return "", false
}

// MaxResolution returns the highest resolution in the list.
func MaxResolution(resolutions []Resolution) Resolution {
	var best Resolution
	for _, r := range resolutions {
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	return best
}
