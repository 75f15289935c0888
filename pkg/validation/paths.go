// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths, object names, or subprocess configuration. Using these validators
// prevents path traversal and keeps remote object names portable across the
// content store backends.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MaxStorePathLength bounds a store path. GitHub and GCS both accept 1024
// bytes for an object name.
const MaxStorePathLength = 1024

// processNamePattern matches supervised process names.
// Allows: lowercase letters, digits, hyphens, underscores; starts with a letter
var processNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// StorePath validates and normalizes a content store path.
//
// Valid paths:
//   - Slash separated, relative to the store root
//   - Leading and trailing slashes and surrounding spaces are trimmed
//   - No empty, "." or ".." segments
//   - No backslashes or control characters
//   - At most MaxStorePathLength bytes
//
// Example:
//
//	p, err := validation.StorePath("/html/game.html")
//	// p == "html/game.html"
func StorePath(path string) (string, error) {
	p := strings.Trim(strings.TrimSpace(path), "/")
	if p == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(p) > MaxStorePathLength {
		return "", fmt.Errorf("path is %d bytes, over the %d byte limit", len(p), MaxStorePathLength)
	}
	if strings.ContainsRune(p, '\\') {
		return "", fmt.Errorf("invalid path %q: backslash is not a separator", path)
	}
	if strings.IndexFunc(p, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("invalid path %q: control character", path)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("invalid path %q", path)
		}
	}
	return p, nil
}

// ProcessName validates a supervised process name. Names appear in log
// attributes, metric labels and status output.
func ProcessName(name string) error {
	if name == "" {
		return fmt.Errorf("process name cannot be empty")
	}
	if !processNamePattern.MatchString(name) {
		return fmt.Errorf("invalid process name %q (lowercase letters, digits, '-' or '_', starting with a letter)", name)
	}
	return nil
}
