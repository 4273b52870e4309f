// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTemplate(t *testing.T, db *mockQuerier, name string, mediaType MediaType, isDefault bool) *PipelineTemplate {
	t.Helper()

	store := NewPipelineTemplateStore(db)
	tpl, err := store.Create(t.Context(), &PipelineTemplate{
		Name:      name,
		MediaType: mediaType,
		IsDefault: isDefault,
		Steps: []StepDefinition{
			{Kind: "Search", Children: []StepDefinition{
				{Kind: "DownloadStart", Children: []StepDefinition{
					{Kind: "DownloadMonitor"},
				}},
			}},
		},
	})
	require.NoError(t, err)
	return tpl
}

func TestPipelineTemplateStore_CreateAndGetDefault(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewPipelineTemplateStore(db)
	ctx := t.Context()

	seedTemplate(t, db, "movies", MediaTypeMovie, true)
	seedTemplate(t, db, "tv", MediaTypeTV, true)

	tpl, err := store.GetDefault(ctx, MediaTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, "movies", tpl.Name)
	assert.Equal(t, 1, tpl.Version)
	require.Len(t, tpl.Steps, 1)
	assert.Equal(t, "Search", tpl.Steps[0].Kind)
}

func TestPipelineTemplateStore_UpdateBumpsVersion(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewPipelineTemplateStore(db)
	ctx := t.Context()

	tpl := seedTemplate(t, db, "movies", MediaTypeMovie, true)

	updated, err := store.Update(ctx, tpl.ID, "movies-v2", []StepDefinition{{Kind: "Search"}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "movies-v2", updated.Name)
	assert.Len(t, updated.Steps, 1)
}

func TestPipelineTemplateStore_SetDefaultMovesFlag(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewPipelineTemplateStore(db)
	ctx := t.Context()

	a := seedTemplate(t, db, "movies-a", MediaTypeMovie, true)
	b := seedTemplate(t, db, "movies-b", MediaTypeMovie, false)
	tv := seedTemplate(t, db, "tv", MediaTypeTV, true)

	require.NoError(t, store.SetDefault(ctx, b.ID))

	gotA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault)

	gotB, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotB.IsDefault)

	// the other media type is untouched
	gotTV, err := store.Get(ctx, tv.ID)
	require.NoError(t, err)
	assert.True(t, gotTV.IsDefault)
}

func TestPipelineTemplateStore_DeleteProtectsDefault(t *testing.T) {
	t.Parallel()

	db := setupModelDB(t)
	store := NewPipelineTemplateStore(db)
	ctx := t.Context()

	def := seedTemplate(t, db, "movies", MediaTypeMovie, true)
	other := seedTemplate(t, db, "movies-alt", MediaTypeMovie, false)

	assert.ErrorIs(t, store.Delete(ctx, def.ID), sql.ErrNoRows)
	require.NoError(t, store.Delete(ctx, other.ID))
}
