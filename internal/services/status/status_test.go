// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/fetcharr/internal/models"
)

func item(status models.ItemStatus, progress float64) *models.ProcessingItem {
	return &models.ProcessingItem{Status: status, Progress: progress}
}

func TestAggregateEmpty(t *testing.T) {
	summary := Aggregate(nil)
	assert.Equal(t, StatusPending, summary.Status)
	assert.Zero(t, summary.Progress)
}

func TestAggregateAllCompleted(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusCompleted, 100),
		item(models.ItemStatusCompleted, 100),
	})
	assert.Equal(t, StatusCompleted, summary.Status)
	assert.InDelta(t, 100, summary.Progress, 0.01)
}

func TestAggregateCompletedWithCancelled(t *testing.T) {
	// A request counts as done when everything settled and something landed.
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusCompleted, 100),
		item(models.ItemStatusCancelled, 0),
	})
	assert.Equal(t, StatusCompleted, summary.Status)
	assert.InDelta(t, 100, summary.Progress, 0.01)
}

func TestAggregateAllCancelled(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusCancelled, 0),
	})
	assert.Equal(t, StatusCancelled, summary.Status)
}

func TestAggregateFailedWithNothingActive(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusFailed, 0),
		item(models.ItemStatusCompleted, 100),
	})
	assert.Equal(t, StatusFailed, summary.Status)
}

func TestAggregateFailureDoesNotMaskActiveSiblings(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusFailed, 0),
		item(models.ItemStatusDownloading, 50),
		item(models.ItemStatusDownloading, 10),
	})
	assert.Equal(t, StatusDownloading, summary.Status)
}

func TestAggregateMajorityStage(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusEncoding, 40),
		item(models.ItemStatusEncoding, 60),
		item(models.ItemStatusDownloading, 90),
	})
	assert.Equal(t, StatusEncoding, summary.Status)
}

func TestAggregateStageTieBreaksForward(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusDownloading, 50),
		item(models.ItemStatusEncoding, 50),
	})
	assert.Equal(t, StatusEncoding, summary.Status)
}

func TestAggregateAllAwaiting(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusAwaiting, 0),
		item(models.ItemStatusAwaiting, 0),
	})
	assert.Equal(t, StatusAwaiting, summary.Status)
}

func TestAggregateQualityUnavailable(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusQualityUnavailable, 0),
	})
	assert.Equal(t, StatusQualityUnavailable, summary.Status)
}

func TestAggregateProgressBands(t *testing.T) {
	// A downloading item at 50% sits midway through the 15-50 band.
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusDownloading, 50),
	})
	assert.Equal(t, StatusDownloading, summary.Status)
	assert.InDelta(t, 32.5, summary.Progress, 0.01)

	// Delivering caps at 99 until everything completes.
	summary = Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusDelivering, 100),
	})
	assert.InDelta(t, 99, summary.Progress, 0.01)
}

func TestAggregateCounts(t *testing.T) {
	summary := Aggregate([]*models.ProcessingItem{
		item(models.ItemStatusDownloading, 10),
		item(models.ItemStatusDownloading, 20),
		item(models.ItemStatusCompleted, 100),
	})
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Counts[models.ItemStatusDownloading])
	assert.Equal(t, 1, summary.Counts[models.ItemStatusCompleted])
}
