// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"strings"
)

// updateLogSettingsInTOML rewrites the four log keys inside existing TOML
// content. Commented-out keys are uncommented in place so the file keeps its
// layout; only keys absent entirely are appended at the end.
func updateLogSettingsInTOML(content, level, logPath string, maxSize, maxBackups int) string {
	replacements := []struct {
		key  string
		line string
	}{
		{"logLevel", fmt.Sprintf("logLevel = %q", level)},
		{"logPath", fmt.Sprintf("logPath = %q", logPath)},
		{"logMaxSize", fmt.Sprintf("logMaxSize = %d", maxSize)},
		{"logMaxBackups", fmt.Sprintf("logMaxBackups = %d", maxBackups)},
	}

	lines := strings.Split(content, "\n")
	var missing []string

	for _, r := range replacements {
		if r.key == "logPath" && logPath == "" {
			continue
		}

		replaced := false
		for i, line := range lines {
			if isTOMLKeyLine(line, r.key) {
				lines[i] = r.line
				replaced = true
				break
			}
		}
		if !replaced {
			missing = append(missing, r.line)
		}
	}

	out := strings.Join(lines, "\n")
	if len(missing) > 0 {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += strings.Join(missing, "\n") + "\n"
	}
	return out
}

// isTOMLKeyLine reports whether the line assigns (or comments out an
// assignment to) exactly the given key.
func isTOMLKeyLine(line, key string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "#")
	trimmed = strings.TrimSpace(trimmed)

	if !strings.HasPrefix(trimmed, key) {
		return false
	}
	rest := strings.TrimSpace(trimmed[len(key):])
	return strings.HasPrefix(rest, "=")
}
