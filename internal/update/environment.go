// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

// ErrSelfUpdateUnsupported is returned when the running environment cannot
// safely replace its own binary.
var ErrSelfUpdateUnsupported = errors.New("self-update is not supported in this environment")

// isRunningInContainer checks the common container markers: /.dockerenv,
// /run/.containerenv and well-known cgroup names. Inside a container the
// binary belongs to the image, not to us.
func isRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	content := string(data)
	for _, indicator := range []string{"docker", "kubepods", "containerd", "libpod"} {
		if strings.Contains(content, indicator) {
			return true
		}
	}

	return false
}

// isSelfUpdateSupportedPlatform reports whether the current GOOS supports
// in-place updates. Windows cannot replace a running binary.
func isSelfUpdateSupportedPlatform() bool {
	return runtime.GOOS != "windows"
}
