// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// TorrentMeta is the parsed content of a .torrent payload.
type TorrentMeta struct {
	Name  string
	Hash  string
	Size  int64
	Files []File
}

// ParseTorrent parses a .torrent payload without touching the download
// client, so the info-hash and file list are known before the add call.
func ParseTorrent(payload []byte) (*TorrentMeta, error) {
	mi, err := metainfo.Load(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent metainfo: %w", err)
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent info: %w", err)
	}

	if info.Name == "" {
		return nil, fmt.Errorf("torrent has no name")
	}

	meta := &TorrentMeta{
		Name: info.Name,
		Hash: mi.HashInfoBytes().HexString(),
	}

	if len(info.Files) == 0 {
		// Single file torrent.
		meta.Size = info.Length
		meta.Files = []File{{Path: info.Name, Size: info.Length}}
		return meta, nil
	}

	for _, f := range info.Files {
		filePath := f.DisplayPath(&info)
		if info.IsDir() && filePath != "" {
			filePath = strings.Join([]string{info.Name, filePath}, "/")
		}
		meta.Files = append(meta.Files, File{Path: filePath, Size: f.Length})
		meta.Size += f.Length
	}

	return meta, nil
}
