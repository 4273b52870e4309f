// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"time"

	"github.com/autobrr/fetcharr/internal/domain"
)

// MediaType distinguishes movie requests from TV requests.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// IsValid reports whether the media type is recognized.
func (m MediaType) IsValid() bool {
	return m == MediaTypeMovie || m == MediaTypeTV
}

// Target identifies where encoded output goes and, optionally, how it is
// encoded. A nil ProfileID falls back to the server default, then the system
// default profile.
type Target struct {
	ServerID  int64  `json:"serverId"`
	ProfileID *int64 `json:"profileId,omitempty"`
}

// Release is an indexer-returned candidate source. It is a value: never
// persisted on its own, only embedded in a Request's selected/available
// release columns or a Download's alternatives list.
type Release struct {
	Title       string            `json:"title"`
	Indexer     string            `json:"indexer"`
	Resolution  domain.Resolution `json:"resolution"`
	Source      string            `json:"source,omitempty"`
	Codec       string            `json:"codec,omitempty"`
	Size        int64             `json:"size"`
	Seeders     int               `json:"seeders"`
	Leechers    int               `json:"leechers"`
	DownloadURL string            `json:"downloadUrl"`
	InfoURL     string            `json:"infoUrl,omitempty"`
	PublishDate time.Time         `json:"publishDate"`
	Season      int               `json:"season,omitempty"`
	Episode     int               `json:"episode,omitempty"`
	Score       int               `json:"score"`
}
