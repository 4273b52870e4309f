// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/autobrr/fetcharr/internal/models"
)

// LocalTransport copies files on the local filesystem, for storage servers
// that are really just mounted paths.
type LocalTransport struct{}

func (t *LocalTransport) Deliver(ctx context.Context, server *models.StorageServer, localPath, remotePath string, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	// Write to a temp name and rename so a crashed copy never leaves a
	// half-written file at the final path.
	tmpPath := remotePath + ".partial"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination file: %w", err)
	}

	pw := &progressWriter{w: dst, total: info.Size(), progress: progress}
	written, err := io.Copy(pw, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("copy failed: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, remotePath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &Result{BytesTransferred: written, Duration: time.Since(start)}, nil
}

// contextReader aborts a long copy when the context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
