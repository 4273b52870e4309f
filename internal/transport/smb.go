// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// SMBTransport delivers onto an SMB share, for NAS-style storage servers.
type SMBTransport struct{}

func (t *SMBTransport) Deliver(ctx context.Context, server *models.StorageServer, localPath, remotePath string, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	if server.Share == "" {
		return nil, domain.Ef(domain.KindMisconfiguration, "server %q has no SMB share configured", server.Name)
	}

	port := server.Port
	if port == 0 {
		port = 445
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", server.Host, port), 30*time.Second)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "SMB connection failed", err)
	}
	defer conn.Close()

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     server.Username,
			Password: server.Password,
		},
	}

	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "SMB authentication failed", err)
	}
	defer session.Logoff()

	share, err := session.Mount(server.Share)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to mount SMB share", err)
	}
	defer share.Umount()

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	// Paths within the share are backslash-separated.
	smbPath := strings.ReplaceAll(strings.TrimPrefix(remotePath, "/"), "/", `\`)
	if dir := smbDir(smbPath); dir != "" {
		if err := share.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.Wrap(domain.KindExternal, "failed to create remote directory", err)
		}
	}

	tmpPath := smbPath + ".partial"
	dst, err := share.Create(tmpPath)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to create remote file", err)
	}

	pw := &progressWriter{w: dst, total: info.Size(), progress: progress}
	written, err := io.Copy(pw, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()
	if err != nil {
		_ = share.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "SMB upload failed", err)
	}
	if closeErr != nil {
		_ = share.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "failed to close remote file", closeErr)
	}

	_ = share.Remove(smbPath)
	if err := share.Rename(tmpPath, smbPath); err != nil {
		_ = share.Remove(tmpPath)
		return nil, domain.Wrap(domain.KindExternal, "failed to move remote file into place", err)
	}

	return &Result{BytesTransferred: written, Duration: time.Since(start)}, nil
}

func smbDir(p string) string {
	idx := strings.LastIndex(p, `\`)
	if idx <= 0 {
		return ""
	}
	return p[:idx]
}
