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
)

// EncodingProfile describes the output the encoder pool should produce:
// container, video codec and which audio/subtitle language tracks to keep.
type EncodingProfile struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Container         string    `json:"container"`
	VideoCodec        string    `json:"videoCodec"`
	AudioLanguages    []string  `json:"audioLanguages"`
	SubtitleLanguages []string  `json:"subtitleLanguages"`
	IsSystemDefault   bool      `json:"isSystemDefault"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// EncodingProfileStore handles database operations for encoding profiles.
type EncodingProfileStore struct {
	db dbinterface.Querier
}

// NewEncodingProfileStore creates a new EncodingProfileStore.
func NewEncodingProfileStore(db dbinterface.Querier) *EncodingProfileStore {
	return &EncodingProfileStore{db: db}
}

const profileColumns = `id, name, container, video_codec, audio_languages,
	subtitle_languages, is_system_default, created_at, updated_at`

// Create inserts an encoding profile.
func (s *EncodingProfileStore) Create(ctx context.Context, p *EncodingProfile) (*EncodingProfile, error) {
	if p == nil {
		return nil, errors.New("encoding profile is nil")
	}
	if p.Name == "" {
		return nil, errors.New("profile name is required")
	}
	if p.Container == "" || p.VideoCodec == "" {
		return nil, errors.New("container and video codec are required")
	}

	audioJSON, err := marshalJSONColumn(p.AudioLanguages, len(p.AudioLanguages) == 0)
	if err != nil {
		return nil, err
	}
	subsJSON, err := marshalJSONColumn(p.SubtitleLanguages, len(p.SubtitleLanguages) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO encoding_profiles (
			name, container, video_codec, audio_languages, subtitle_languages, is_system_default
		) VALUES (?, ?, ?, ?, ?, 0)
	`, p.Name, p.Container, p.VideoCodec, audioJSON, subsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to insert encoding profile: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves an encoding profile by ID.
func (s *EncodingProfileStore) Get(ctx context.Context, id int64) (*EncodingProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM encoding_profiles
		WHERE id = ?
	`, id)

	return s.scanProfile(row)
}

// GetSystemDefault returns the profile used when neither the target nor the
// server names one.
func (s *EncodingProfileStore) GetSystemDefault(ctx context.Context) (*EncodingProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM encoding_profiles
		WHERE is_system_default = 1
		ORDER BY id
		LIMIT 1
	`)

	return s.scanProfile(row)
}

// List returns all encoding profiles.
func (s *EncodingProfileStore) List(ctx context.Context) ([]*EncodingProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM encoding_profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanProfiles(rows)
}

// Update rewrites a profile's settings. The system default flag is managed
// separately via SetSystemDefault.
func (s *EncodingProfileStore) Update(ctx context.Context, p *EncodingProfile) (*EncodingProfile, error) {
	if p == nil || p.ID == 0 {
		return nil, errors.New("profile id is required")
	}

	audioJSON, err := marshalJSONColumn(p.AudioLanguages, len(p.AudioLanguages) == 0)
	if err != nil {
		return nil, err
	}
	subsJSON, err := marshalJSONColumn(p.SubtitleLanguages, len(p.SubtitleLanguages) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE encoding_profiles SET
			name = ?, container = ?, video_codec = ?,
			audio_languages = ?, subtitle_languages = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, p.Name, p.Container, p.VideoCodec, audioJSON, subsJSON, p.ID)
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

	return s.Get(ctx, p.ID)
}

// SetSystemDefault moves the system default flag to the given profile.
func (s *EncodingProfileStore) SetSystemDefault(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE encoding_profiles SET is_system_default = 0, updated_at = CURRENT_TIMESTAMP
		WHERE is_system_default = 1
	`); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE encoding_profiles SET is_system_default = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
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

// Delete removes a profile. The system default cannot be deleted.
func (s *EncodingProfileStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM encoding_profiles WHERE id = ? AND is_system_default = 0
	`, id)
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

func (s *EncodingProfileStore) scanProfile(row scannable) (*EncodingProfile, error) {
	var p EncodingProfile
	var audioJSON, subsJSON sql.NullString

	err := row.Scan(&p.ID, &p.Name, &p.Container, &p.VideoCodec,
		&audioJSON, &subsJSON, &p.IsSystemDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONColumn(audioJSON, &p.AudioLanguages); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(subsJSON, &p.SubtitleLanguages); err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *EncodingProfileStore) scanProfiles(rows *sql.Rows) ([]*EncodingProfile, error) {
	var profiles []*EncodingProfile

	for rows.Next() {
		p, err := s.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}
