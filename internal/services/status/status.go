// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package status rolls per-item pipeline state up into one request-level
// status and progress figure. It is pure computation; callers fetch the
// items and feed them in.
package status

import (
	"github.com/autobrr/fetcharr/internal/models"
)

// RequestStatus is the rolled-up state shown for a whole request.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusSearching          RequestStatus = "searching"
	StatusAwaiting           RequestStatus = "awaiting"
	StatusQualityUnavailable RequestStatus = "quality_unavailable"
	StatusDownloading        RequestStatus = "downloading"
	StatusEncoding           RequestStatus = "encoding"
	StatusDelivering         RequestStatus = "delivering"
	StatusCompleted          RequestStatus = "completed"
	StatusFailed             RequestStatus = "failed"
	StatusCancelled          RequestStatus = "cancelled"
)

// Summary is the aggregate view over a request's items.
type Summary struct {
	Status   RequestStatus             `json:"status"`
	Progress float64                   `json:"progress"`
	Counts   map[models.ItemStatus]int `json:"counts"`
	Total    int                       `json:"total"`
}

// stageOf maps an active item status onto its display stage.
func stageOf(s models.ItemStatus) RequestStatus {
	switch s {
	case models.ItemStatusSearching:
		return StatusSearching
	case models.ItemStatusDownloading, models.ItemStatusDownloaded:
		return StatusDownloading
	case models.ItemStatusEncoding, models.ItemStatusEncoded:
		return StatusEncoding
	case models.ItemStatusDelivering:
		return StatusDelivering
	default:
		return StatusPending
	}
}

// progressBandFor places an item's own 0-100 progress into the band its
// stage occupies on the request-level bar.
func progressBandFor(item *models.ProcessingItem) float64 {
	within := item.Progress / 100
	if within < 0 {
		within = 0
	}
	if within > 1 {
		within = 1
	}

	var lo, hi float64
	switch item.Status {
	case models.ItemStatusPending:
		lo, hi = 0, 5
	case models.ItemStatusSearching, models.ItemStatusAwaiting, models.ItemStatusQualityUnavailable:
		lo, hi = 5, 15
	case models.ItemStatusDownloading, models.ItemStatusDownloaded:
		lo, hi = 15, 50
	case models.ItemStatusEncoding, models.ItemStatusEncoded:
		lo, hi = 50, 75
	case models.ItemStatusDelivering:
		lo, hi = 75, 99
	case models.ItemStatusCompleted:
		return 100
	case models.ItemStatusFailed, models.ItemStatusCancelled:
		return 0
	default:
		return 0
	}
	return lo + (hi-lo)*within
}

// Aggregate rolls item states up into one request status.
//
// Precedence: fully settled with at least one success wins as completed; a
// failure with nothing else still moving wins as failed; otherwise the stage
// most items are in represents the request, with progress as the mean of the
// items' banded progress.
func Aggregate(items []*models.ProcessingItem) Summary {
	summary := Summary{
		Counts: make(map[models.ItemStatus]int),
		Total:  len(items),
	}
	if len(items) == 0 {
		summary.Status = StatusPending
		return summary
	}

	var (
		completed, cancelled, failed int
		awaiting, unavailable        int
		activeItems                  []*models.ProcessingItem
		progressSum                  float64
	)

	for _, item := range items {
		summary.Counts[item.Status]++
		progressSum += progressBandFor(item)

		switch item.Status {
		case models.ItemStatusCompleted:
			completed++
		case models.ItemStatusCancelled:
			cancelled++
		case models.ItemStatusFailed:
			failed++
		case models.ItemStatusAwaiting:
			awaiting++
		case models.ItemStatusQualityUnavailable:
			unavailable++
		default:
			activeItems = append(activeItems, item)
		}
	}

	switch {
	case completed+cancelled == len(items) && completed > 0:
		summary.Status = StatusCompleted
		summary.Progress = 100
		return summary

	case cancelled == len(items):
		summary.Status = StatusCancelled
		return summary

	case failed > 0 && len(activeItems) == 0:
		summary.Status = StatusFailed

	case len(activeItems) > 0:
		summary.Status = majorityStage(activeItems)

	case awaiting > 0 && awaiting+completed+cancelled+failed == len(items):
		summary.Status = StatusAwaiting

	case unavailable > 0:
		summary.Status = StatusQualityUnavailable

	default:
		summary.Status = StatusPending
	}

	summary.Progress = progressSum / float64(len(items))
	return summary
}

// majorityStage picks the stage the most active items are in. Ties break
// toward the later pipeline stage so the bar never appears to move backward.
func majorityStage(active []*models.ProcessingItem) RequestStatus {
	order := []RequestStatus{
		StatusDelivering,
		StatusEncoding,
		StatusDownloading,
		StatusSearching,
		StatusPending,
	}

	counts := make(map[RequestStatus]int)
	for _, item := range active {
		counts[stageOf(item.Status)]++
	}

	best := StatusPending
	bestCount := -1
	for _, stage := range order {
		if counts[stage] > bestCount {
			best = stage
			bestCount = counts[stage]
		}
	}
	return best
}
