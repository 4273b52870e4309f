// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/fetcharr/internal/domain"
)

func TestRequestStore_Create(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		db := setupModelDB(t)
		store := NewRequestStore(db)
		ctx := t.Context()

		profileID := int64(2)
		r, err := store.Create(ctx, &Request{
			MediaType:          MediaTypeTV,
			TmdbID:             1396,
			Title:              "Breaking Bad",
			Year:               2008,
			RequestedSeasons:   []int{1, 2},
			Targets:            []Target{{ServerID: 1}, {ServerID: 2, ProfileID: &profileID}},
			RequiredResolution: domain.Resolution1080p,
			Subscribed:         true,
		})
		require.NoError(t, err)
		require.NotNil(t, r)

		assert.Equal(t, int64(1), r.ID)
		assert.Equal(t, MediaTypeTV, r.MediaType)
		assert.Equal(t, []int{1, 2}, r.RequestedSeasons)
		require.Len(t, r.Targets, 2)
		require.NotNil(t, r.Targets[1].ProfileID)
		assert.Equal(t, int64(2), *r.Targets[1].ProfileID)
		assert.True(t, r.Subscribed)
		assert.Nil(t, r.SelectedRelease)
		assert.False(t, r.CreatedAt.IsZero())
	})

	t.Run("rejects missing targets", func(t *testing.T) {
		t.Parallel()

		db := setupModelDB(t)
		store := NewRequestStore(db)

		_, err := store.Create(t.Context(), &Request{
			MediaType: MediaTypeMovie,
			TmdbID:    603,
			Title:     "The Matrix",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target")
	})

	t.Run("rejects invalid media type", func(t *testing.T) {
		t.Parallel()

		db := setupModelDB(t)
		store := NewRequestStore(db)

		_, err := store.Create(t.Context(), &Request{
			MediaType: "music",
			TmdbID:    1,
			Title:     "x",
			Targets:   []Target{{ServerID: 1}},
		})
		require.Error(t, err)
	})
}

func TestRequestStore_SelectedRelease(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewRequestStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	release := &Release{
		Title:      "The.Matrix.1999.1080p.BluRay.x265-GROUP",
		Indexer:    "privatehd",
		Resolution: domain.Resolution1080p,
		Size:       8 << 30,
		Seeders:    42,
	}
	require.NoError(t, store.SetSelectedRelease(ctx, r.ID, release))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SelectedRelease)
	assert.Equal(t, release.Title, got.SelectedRelease.Title)
	assert.Equal(t, 42, got.SelectedRelease.Seeders)

	// clearing
	require.NoError(t, store.SetSelectedRelease(ctx, r.ID, nil))
	got, err = store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SelectedRelease)
}

func TestRequestStore_AvailableReleases(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewRequestStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	releases := []Release{
		{Title: "The.Matrix.1999.720p.WEB.x264-A", Resolution: domain.Resolution720p},
		{Title: "The.Matrix.1999.480p.DVDRip-B", Resolution: domain.Resolution480p},
	}
	require.NoError(t, store.SetAvailableReleases(ctx, r.ID, releases))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.AvailableReleases, 2)
	assert.Equal(t, domain.Resolution720p, got.AvailableReleases[0].Resolution)
}

func TestRequestStore_ListSubscribedTV(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewRequestStore(db)
	ctx := t.Context()

	_, err := store.Create(ctx, &Request{
		MediaType: MediaTypeTV, TmdbID: 1396, Title: "Breaking Bad",
		Targets: []Target{{ServerID: 1}}, Subscribed: true,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Request{
		MediaType: MediaTypeTV, TmdbID: 60059, Title: "Better Call Saul",
		Targets: []Target{{ServerID: 1}},
	})
	require.NoError(t, err)
	seedRequest(t, db)

	subscribed, err := store.ListSubscribedTV(ctx)
	require.NoError(t, err)
	require.Len(t, subscribed, 1)
	assert.Equal(t, "Breaking Bad", subscribed[0].Title)
}

func TestRequestStore_CancelAndComplete(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewRequestStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	require.NoError(t, store.SetCancelRequested(ctx, r.ID, true))
	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)

	now := time.Now().UTC()
	require.NoError(t, store.SetCompletedAt(ctx, r.ID, &now))
	got, err = store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestRequestStore_Delete(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewRequestStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	require.NoError(t, store.Delete(ctx, r.ID))

	_, err := store.Get(ctx, r.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.ErrorIs(t, store.Delete(ctx, r.ID), sql.ErrNoRows)
}
