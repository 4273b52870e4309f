// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/fetcharr/internal/dbinterface"
	"github.com/autobrr/fetcharr/internal/domain"
)

// TransportProtocol selects how encoded output reaches a storage server.
type TransportProtocol string

const (
	ProtocolLocal TransportProtocol = "local"
	ProtocolSFTP  TransportProtocol = "sftp"
	ProtocolRsync TransportProtocol = "rsync"
	ProtocolSMB   TransportProtocol = "smb"
)

// IsValid reports whether the protocol is recognized.
func (p TransportProtocol) IsValid() bool {
	switch p {
	case ProtocolLocal, ProtocolSFTP, ProtocolRsync, ProtocolSMB:
		return true
	}
	return false
}

// StorageServer is a registered delivery destination. MaxResolution caps what
// gets encoded for this server; DefaultProfileID overrides the system default
// encoding profile when a target does not name its own.
type StorageServer struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Protocol         TransportProtocol `json:"protocol"`
	Host             string            `json:"host,omitempty"`
	Port             int               `json:"port,omitempty"`
	Username         string            `json:"username,omitempty"`
	Password         string            `json:"password,omitempty"`
	Share            string            `json:"share,omitempty"`
	MovieRoot        string            `json:"movieRoot"`
	TVRoot           string            `json:"tvRoot"`
	MaxResolution    domain.Resolution `json:"maxResolution"`
	DefaultProfileID *int64            `json:"defaultProfileId,omitempty"`
	MediaServerURL   string            `json:"mediaServerUrl,omitempty"`
	MediaServerToken string            `json:"mediaServerToken,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// RootFor returns the library root for the media type.
func (s *StorageServer) RootFor(mediaType MediaType) string {
	if mediaType == MediaTypeTV {
		return s.TVRoot
	}
	return s.MovieRoot
}

// StorageServerStore handles database operations for storage servers.
type StorageServerStore struct {
	db dbinterface.Querier
}

// NewStorageServerStore creates a new StorageServerStore.
func NewStorageServerStore(db dbinterface.Querier) *StorageServerStore {
	return &StorageServerStore{db: db}
}

const serverColumns = `id, name, protocol, host, port, username, password, share,
	movie_root, tv_root, max_resolution, default_profile_id,
	media_server_url, media_server_token, created_at, updated_at`

// Create registers a storage server.
func (s *StorageServerStore) Create(ctx context.Context, srv *StorageServer) (*StorageServer, error) {
	if srv == nil {
		return nil, errors.New("storage server is nil")
	}
	if srv.Name == "" {
		return nil, errors.New("server name is required")
	}
	if !srv.Protocol.IsValid() {
		return nil, fmt.Errorf("invalid transport protocol %q", srv.Protocol)
	}
	if srv.Protocol != ProtocolLocal && srv.Host == "" {
		return nil, fmt.Errorf("protocol %s requires a host", srv.Protocol)
	}
	if srv.MovieRoot == "" && srv.TVRoot == "" {
		return nil, errors.New("at least one library root is required")
	}
	if srv.MaxResolution == "" {
		srv.MaxResolution = domain.Resolution2160p
	}
	if !srv.MaxResolution.IsValid() {
		return nil, fmt.Errorf("invalid max resolution %q", srv.MaxResolution)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_servers (
			name, protocol, host, port, username, password, share,
			movie_root, tv_root, max_resolution, default_profile_id,
			media_server_url, media_server_token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		srv.Name, srv.Protocol, nullString(srv.Host), srv.Port,
		nullString(srv.Username), nullString(srv.Password), nullString(srv.Share),
		nullString(srv.MovieRoot), nullString(srv.TVRoot),
		string(srv.MaxResolution), nullInt64(srv.DefaultProfileID),
		nullString(srv.MediaServerURL), nullString(srv.MediaServerToken),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert storage server: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a storage server by ID.
func (s *StorageServerStore) Get(ctx context.Context, id int64) (*StorageServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+`
		FROM storage_servers
		WHERE id = ?
	`, id)

	return s.scanServer(row)
}

// GetByName retrieves a storage server by its unique name.
func (s *StorageServerStore) GetByName(ctx context.Context, name string) (*StorageServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+`
		FROM storage_servers
		WHERE name = ?
	`, name)

	return s.scanServer(row)
}

// List returns all registered storage servers.
func (s *StorageServerStore) List(ctx context.Context) ([]*StorageServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serverColumns+`
		FROM storage_servers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanServers(rows)
}

// Update rewrites a storage server record.
func (s *StorageServerStore) Update(ctx context.Context, srv *StorageServer) (*StorageServer, error) {
	if srv == nil || srv.ID == 0 {
		return nil, errors.New("storage server id is required")
	}
	if !srv.Protocol.IsValid() {
		return nil, fmt.Errorf("invalid transport protocol %q", srv.Protocol)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE storage_servers SET
			name = ?, protocol = ?, host = ?, port = ?, username = ?, password = ?, share = ?,
			movie_root = ?, tv_root = ?, max_resolution = ?, default_profile_id = ?,
			media_server_url = ?, media_server_token = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		srv.Name, srv.Protocol, nullString(srv.Host), srv.Port,
		nullString(srv.Username), nullString(srv.Password), nullString(srv.Share),
		nullString(srv.MovieRoot), nullString(srv.TVRoot),
		string(srv.MaxResolution), nullInt64(srv.DefaultProfileID),
		nullString(srv.MediaServerURL), nullString(srv.MediaServerToken),
		srv.ID,
	)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, srv.ID)
}

// Delete removes a storage server.
func (s *StorageServerStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM storage_servers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *StorageServerStore) scanServer(row scannable) (*StorageServer, error) {
	var srv StorageServer
	var host, username, password, share, movieRoot, tvRoot sql.NullString
	var mediaServerURL, mediaServerToken sql.NullString
	var maxResolution string
	var defaultProfileID sql.NullInt64

	err := row.Scan(
		&srv.ID, &srv.Name, &srv.Protocol, &host, &srv.Port, &username, &password, &share,
		&movieRoot, &tvRoot, &maxResolution, &defaultProfileID,
		&mediaServerURL, &mediaServerToken, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	srv.Host = host.String
	srv.Username = username.String
	srv.Password = password.String
	srv.Share = share.String
	srv.MovieRoot = movieRoot.String
	srv.TVRoot = tvRoot.String
	srv.MediaServerURL = mediaServerURL.String
	srv.MediaServerToken = mediaServerToken.String
	srv.MaxResolution = domain.Resolution(maxResolution)
	if defaultProfileID.Valid {
		srv.DefaultProfileID = &defaultProfileID.Int64
	}

	return &srv, nil
}

func (s *StorageServerStore) scanServers(rows *sql.Rows) ([]*StorageServer, error) {
	var servers []*StorageServer

	for rows.Next() {
		srv, err := s.scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return servers, nil
}
