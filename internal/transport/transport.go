// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport moves encoded files onto storage servers. Each protocol
// has its own implementation; the registry hands out the right one for a
// server's configuration.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// ProgressFunc receives byte-level progress during a transfer. totalBytes is
// 0 when the transport cannot know the total up front.
type ProgressFunc func(bytesSent, totalBytes int64)

// Result is the outcome of one delivery attempt.
type Result struct {
	BytesTransferred int64
	Duration         time.Duration
}

// Transport delivers a local file to a remote path on a storage server. The
// remote path is absolute within the server's filesystem (or share); parent
// directories are created as needed. Deliveries overwrite existing files so
// a retried delivery converges instead of failing.
type Transport interface {
	Deliver(ctx context.Context, server *models.StorageServer, localPath, remotePath string, progress ProgressFunc) (*Result, error)
}

// Registry maps protocols to transports.
type Registry struct {
	transports map[models.TransportProtocol]Transport
}

// NewRegistry builds the default registry with all four protocols wired.
func NewRegistry() *Registry {
	return &Registry{
		transports: map[models.TransportProtocol]Transport{
			models.ProtocolLocal: &LocalTransport{},
			models.ProtocolSFTP:  &SFTPTransport{},
			models.ProtocolRsync: &RsyncTransport{},
			models.ProtocolSMB:   &SMBTransport{},
		},
	}
}

// For returns the transport for a protocol.
func (r *Registry) For(protocol models.TransportProtocol) (Transport, error) {
	t, ok := r.transports[protocol]
	if !ok {
		return nil, domain.Ef(domain.KindMisconfiguration, "no transport for protocol %q", protocol)
	}
	return t, nil
}

// progressWriter wraps a writer and reports cumulative bytes written.
type progressWriter struct {
	w        io.Writer
	total    int64
	sent     int64
	progress ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.sent += int64(n)
	if pw.progress != nil {
		pw.progress(pw.sent, pw.total)
	}
	return n, err
}
