// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils provides string utilities including interning via
// Go's unique package for memory-efficient deduplication of commonly
// repeated strings like torrent hashes, indexer names, and status strings.
package stringutils

import (
	"strings"
	"unique"
)

// Intern returns a canonical representation of the string using Go's unique package.
// Identical strings will share the same underlying memory, reducing allocations
// and enabling fast equality comparisons.
func Intern(s string) string {
	if s == "" {
		return ""
	}
	return unique.Make(s).Value()
}

// InternNormalized interns a trimmed and lowercased version of the string.
// This is the canonical form for case-insensitive string matching.
func InternNormalized(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	return unique.Make(normalized).Value()
}
