// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// Scanner asks a storage server's media server to pick up newly delivered
// files. Scan failures never fail a delivery; the library would find the
// files on its own schedule anyway.
type Scanner interface {
	Scan(ctx context.Context, server *models.StorageServer, deliveredPath string) error
}

// HTTPScanner triggers scans over the media server's HTTP API.
type HTTPScanner struct {
	httpClient *http.Client
}

// NewHTTPScanner creates a scanner with a sane request timeout.
func NewHTTPScanner() *HTTPScanner {
	return &HTTPScanner{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type scanRequest struct {
	Path string `json:"path"`
}

// Scan requests a partial scan rooted at the delivered path. Servers without
// a media server URL configured are skipped silently.
func (s *HTTPScanner) Scan(ctx context.Context, server *models.StorageServer, deliveredPath string) error {
	if server.MediaServerURL == "" {
		log.Debug().Str("server", server.Name).Msg("library: no media server configured, skipping scan")
		return nil
	}

	payload, err := json.Marshal(scanRequest{Path: deliveredPath})
	if err != nil {
		return fmt.Errorf("failed to marshal scan request: %w", err)
	}

	return retry.Do(
		func() error {
			return s.doScan(ctx, server, payload)
		},
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return domain.KindOf(err) == domain.KindExternal && ctx.Err() == nil
		}),
	)
}

func (s *HTTPScanner) doScan(ctx context.Context, server *models.StorageServer, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.MediaServerURL+"/library/scan", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if server.MediaServerToken != "" {
		req.Header.Set("Authorization", "Bearer "+server.MediaServerToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindExternal, "media server unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return domain.Ef(domain.KindExternal, "media server returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("media server returned unexpected status %d", resp.StatusCode)
	}

	return nil
}
