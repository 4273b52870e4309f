// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/fetcharr/internal/database"
)

// setupTestDB opens a migrated database in a temp dir, so seeded defaults
// (system encoding profile, default pipeline templates) are present.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

// newTestRouter mounts a handler's routes the way the server does.
func newTestRouter(mount func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", mount)
	return r
}
