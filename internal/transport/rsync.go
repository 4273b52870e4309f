// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// RsyncTransport shells out to rsync over SSH. Partial transfers resume on
// retry instead of restarting.
type RsyncTransport struct{}

func (t *RsyncTransport) Deliver(ctx context.Context, server *models.StorageServer, localPath, remotePath string, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	port := server.Port
	if port == 0 {
		port = 22
	}

	remoteSpec := fmt.Sprintf("%s@%s:%s", server.Username, server.Host, shellquote.Join(remotePath))
	sshCommand := fmt.Sprintf("ssh -p %d -o StrictHostKeyChecking=accept-new", port)

	args := []string{
		"--partial",
		"--inplace",
		"--mkpath",
		"-e", sshCommand,
		localPath,
		remoteSpec,
	}

	cmd := exec.CommandContext(ctx, "rsync", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().
		Str("server", server.Name).
		Str("remotePath", path.Dir(remotePath)).
		Msg("transport: starting rsync")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, domain.Ef(domain.KindExternal, "rsync failed: %s", msg)
	}

	// rsync reports per-file progress on stdout in a format that varies by
	// version, so completion is reported as one jump.
	if progress != nil {
		progress(info.Size(), info.Size())
	}

	return &Result{BytesTransferred: info.Size(), Duration: time.Since(start)}, nil
}
