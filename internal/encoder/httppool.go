// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
)

const (
	// maxResponseSize limits pool response bodies (1MB)
	maxResponseSize = 1 << 20

	defaultTimeout = 30 * time.Second
)

// minWorkerVersion is the oldest worker agent that has the track-cleanup
// remux endpoint.
var minWorkerVersion = semver.MustParse("1.2.0")

// HTTPPool implements Pool against the encoder pool coordinator's HTTP API.
type HTTPPool struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewHTTPPool creates a pool client for the given coordinator URL.
func NewHTTPPool(baseURL, token string) *HTTPPool {
	return &HTTPPool{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		token:      token,
	}
}

type poolWorker struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// HasEncoders reports whether any worker at a usable version is registered.
func (p *HTTPPool) HasEncoders(ctx context.Context) (bool, error) {
	var workers []poolWorker
	if err := p.do(ctx, http.MethodGet, "/api/workers", nil, &workers); err != nil {
		return false, err
	}

	for _, w := range workers {
		v, err := semver.NewVersion(w.Version)
		if err != nil {
			log.Debug().Str("worker", w.ID).Str("version", w.Version).
				Msg("encoder: worker reports unparseable version, skipping")
			continue
		}
		if !v.LessThan(minWorkerVersion) {
			return true, nil
		}
	}
	return false, nil
}

// Submit queues a job. A conflict response means the job ID is already
// known, which the idempotent submit path treats as success.
func (p *HTTPPool) Submit(ctx context.Context, job Job) error {
	err := p.do(ctx, http.MethodPost, "/api/jobs", job, nil)
	if domain.KindOf(err) == domain.KindPrecondition {
		return nil
	}
	return err
}

// Status returns the current state of a job.
func (p *HTTPPool) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var status JobStatus
	path := "/api/jobs/" + url.PathEscape(jobID)
	if err := p.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Remux asks the pool to strip unwanted tracks from a finished encode.
func (p *HTTPPool) Remux(ctx context.Context, job RemuxJob) (string, error) {
	var result struct {
		OutputPath string `json:"outputPath"`
	}
	if err := p.do(ctx, http.MethodPost, "/api/remux", job, &result); err != nil {
		return "", err
	}
	if result.OutputPath == "" {
		return "", domain.E(domain.KindExternal, "encoder pool returned no remux output")
	}
	return result.OutputPath, nil
}

// Cancel asks the pool to stop a job.
func (p *HTTPPool) Cancel(ctx context.Context, jobID, reason string) error {
	path := fmt.Sprintf("/api/jobs/%s?reason=%s", url.PathEscape(jobID), url.QueryEscape(reason))
	err := p.do(ctx, http.MethodDelete, path, nil, nil)
	if domain.IsNotFound(err) {
		return nil
	}
	return err
}

// do performs one API call with retries on transient failures.
func (p *HTTPPool) do(ctx context.Context, method, path string, in, out any) error {
	return retry.Do(
		func() error {
			return p.doRequest(ctx, method, path, in, out)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return domain.KindOf(err) == domain.KindExternal && ctx.Err() == nil
		}),
	)
}

func (p *HTTPPool) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal pool request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create pool request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindExternal, "encoder pool unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.E(domain.KindNotFound, "encoder pool job not found")
	case resp.StatusCode == http.StatusConflict:
		return domain.E(domain.KindPrecondition, "encoder pool job already exists")
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.E(domain.KindMisconfiguration, "encoder pool rejected the token")
	case resp.StatusCode >= 500:
		return domain.Ef(domain.KindExternal, "encoder pool returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("encoder pool returned unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	limited := io.LimitReader(resp.Body, maxResponseSize)
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pool response: %w", err)
	}
	return nil
}
