// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadStore_CreateAndGetByHash(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewDownloadStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	d, err := store.Create(ctx, &Download{
		RequestID:   r.ID,
		TorrentHash: "aabbccddeeff00112233445566778899aabbccdd",
		Name:        "The.Matrix.1999.1080p.BluRay.x265-GROUP",
		Size:        8 << 30,
	})
	require.NoError(t, err)
	assert.Equal(t, DownloadStatusPending, d.Status)

	byHash, err := store.GetByHash(ctx, d.TorrentHash)
	require.NoError(t, err)
	assert.Equal(t, d.ID, byHash.ID)

	// same hash again violates the unique constraint
	_, err = store.Create(ctx, &Download{
		RequestID:   r.ID,
		TorrentHash: d.TorrentHash,
		Name:        "dupe",
	})
	require.Error(t, err)
}

func TestDownloadStore_UpdateTransferState(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewDownloadStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	d, err := store.Create(ctx, &Download{RequestID: r.ID, TorrentHash: "hash1", Name: "n"})
	require.NoError(t, err)
	require.Nil(t, d.LastProgressAt)

	// no forward movement: timestamp stays empty
	require.NoError(t, store.UpdateTransferState(ctx, d.ID, 0, 3, 1, 0, false))
	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastProgressAt)

	// real progress advances the stall clock
	require.NoError(t, store.UpdateTransferState(ctx, d.ID, 12.5, 5, 2, 4<<20, true))
	got, err = store.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastProgressAt)
	assert.InDelta(t, 12.5, got.Progress, 0.001)
	assert.Equal(t, int64(4<<20), got.Speed)
}

func TestDownloadStore_TransitionStatus(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewDownloadStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	d, err := store.Create(ctx, &Download{RequestID: r.ID, TorrentHash: "hash2", Name: "n"})
	require.NoError(t, err)

	ok, err := store.TransitionStatus(ctx, d.ID, DownloadStatusPending, DownloadStatusDownloading)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionStatus(ctx, d.ID, DownloadStatusPending, DownloadStatusDownloading)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDownloadStore_ListActive(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewDownloadStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	active, err := store.Create(ctx, &Download{RequestID: r.ID, TorrentHash: "h1", Name: "a", Status: DownloadStatusDownloading})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Download{RequestID: r.ID, TorrentHash: "h2", Name: "b", Status: DownloadStatusProcessed})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Download{RequestID: r.ID, TorrentHash: "h3", Name: "c", Status: DownloadStatusFailed})
	require.NoError(t, err)

	got, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestDownloadStore_Alternatives(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewDownloadStore(db)
	ctx := t.Context()
	r := seedRequest(t, db)

	d, err := store.Create(ctx, &Download{
		RequestID:   r.ID,
		TorrentHash: "h4",
		Name:        "n",
		Alternatives: []Release{
			{Title: "alt-1", Seeders: 10},
			{Title: "alt-2", Seeders: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, d.Alternatives, 2)

	// pop the first alternative, as the reconciler does on a stall switch
	require.NoError(t, store.SetAlternatives(ctx, d.ID, d.Alternatives[1:]))
	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.Alternatives, 1)
	assert.Equal(t, "alt-2", got.Alternatives[0].Title)

	require.NoError(t, store.SetAlternatives(ctx, d.ID, nil))
	got, err = store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Alternatives)
}
