// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// unicodeNormalizer caches expensive NFKD transformations. Title matching
	// runs once per release per search, so identical inputs repeat constantly.
	unicodeNormalizer = NewNormalizer(defaultNormalizerTTL, normalizeUnicodeInner)

	// matchingNormalizer caches full NormalizeTitle results for release matching hot paths.
	matchingNormalizer = NewNormalizer(defaultNormalizerTTL, normalizedTitle)
)

// normalizeUnicodeInner is the inner transformation function used by unicodeNormalizer.
func normalizeUnicodeInner(s string) string {
	// Distinct letters in Nordic/Germanic languages that NFKD does not
	// decompose to ASCII equivalents.
	s = strings.ReplaceAll(s, "æ", "ae")
	s = strings.ReplaceAll(s, "Æ", "AE")
	s = strings.ReplaceAll(s, "œ", "oe")
	s = strings.ReplaceAll(s, "Œ", "OE")
	s = strings.ReplaceAll(s, "ø", "o")
	s = strings.ReplaceAll(s, "Ø", "O")
	s = strings.ReplaceAll(s, "ß", "ss")
	s = strings.ReplaceAll(s, "ð", "d")
	s = strings.ReplaceAll(s, "Ð", "D")
	s = strings.ReplaceAll(s, "þ", "th")
	s = strings.ReplaceAll(s, "Þ", "TH")

	// transform.Chain is not safe for concurrent use, create per call.
	// The normalizer cache prevents repeated transformations for identical inputs.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// normalizedTitle is the inner transformation function used by matchingNormalizer.
func normalizedTitle(s string) string {
	s = unicodeNormalizer.Normalize(s)
	s = strings.ToLower(strings.TrimSpace(s))

	// Strip punctuation that release names and catalog titles disagree on.
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "") // right single quote
	s = strings.ReplaceAll(s, "‘", "") // left single quote
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "(", " ")
	s = strings.ReplaceAll(s, ")", " ")

	// Collapse whitespace runs.
	s = strings.Join(strings.Fields(s), " ")

	return s
}

// NormalizeUnicode removes diacritics and decomposes ligatures with caching.
// For full title normalization use NormalizeTitle instead.
// Examples:
//   - "Shōgun" → "Shogun"
//   - "Amélie" → "Amelie"
//   - "Björk" → "Bjork"
func NormalizeUnicode(s string) string {
	return unicodeNormalizer.Normalize(s)
}

// NormalizeTitle applies cached full normalization for release title matching:
// unicode normalization, lowercase, punctuation stripped, collapsed whitespace.
// Titles compare by strict equality after normalization, which is what keeps
// "Show Name" distinct from "Show Name: Spinoff".
//
// Examples:
//   - "Shōgun" → "shogun"
//   - "Bob's Burgers" → "bobs burgers"
//   - "CSI: Miami" → "csi miami"
//   - "Spider-Man" → "spider man"
func NormalizeTitle(s string) string {
	return matchingNormalizer.Normalize(s)
}
