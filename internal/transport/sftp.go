// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// SFTPTransport delivers over SSH using the SFTP subsystem.
type SFTPTransport struct{}

func (t *SFTPTransport) Deliver(ctx context.Context, server *models.StorageServer, localPath, remotePath string, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	port := server.Port
	if port == 0 {
		port = 22
	}

	sshConfig := &ssh.ClientConfig{
		User: server.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(server.Password),
		},
		// Host keys are not pinned per server yet. TODO: store the host key
		// on first connect and verify afterwards.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	sshClient, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", server.Host, port), sshConfig)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "SSH connection failed", err)
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "SFTP subsystem failed", err)
	}
	defer client.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to create remote directory", err)
	}

	tmpPath := remotePath + ".partial"
	dst, err := client.Create(tmpPath)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to create remote file", err)
	}

	pw := &progressWriter{w: dst, total: info.Size(), progress: progress}
	written, err := io.Copy(pw, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()
	if err != nil {
		_ = client.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "SFTP upload failed", err)
	}
	if closeErr != nil {
		_ = client.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "failed to close remote file", closeErr)
	}

	// Rename over an existing file where the server allows it.
	_ = client.Remove(remotePath)
	if err := client.Rename(tmpPath, remotePath); err != nil {
		_ = client.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "failed to move remote file into place", err)
	}

	return &Result{BytesTransferred: written, Duration: time.Since(start)}, nil
}
