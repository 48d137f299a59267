// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package validation checks operator supplied identifiers and paths before
// they reach the engine registry, the filesystem or a log line.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxEngineIDLength = 64
	maxPathLength     = 4096
	maxLogLength      = 1000
)

// engineIDPattern matches safe engine identifiers (lowercase alphanumeric + hyphens)
var engineIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// ValidateEngineID validates a hardware engine identifier.
// Identifiers must be simple lowercase names such as "tpm2".
func ValidateEngineID(id string) error {
	if id == "" {
		return fmt.Errorf("engine id cannot be empty")
	}
	if len(id) > maxEngineIDLength {
		return fmt.Errorf("engine id too long (max %d characters)", maxEngineIDLength)
	}
	if !engineIDPattern.MatchString(id) {
		return fmt.Errorf("engine id contains invalid characters (allowed: a-z, 0-9, -)")
	}
	return nil
}

// ValidatePath validates a key, certificate or device path. Paths are
// opaque; only null bytes, control characters and excessive length are
// rejected. Engine key labels such as 0x81000002 pass unchanged.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains null byte")
	}
	if len(path) > maxPathLength {
		return fmt.Errorf("path too long (max %d characters)", maxPathLength)
	}
	for _, r := range path {
		if r < 32 || r == 127 {
			return fmt.Errorf("path contains control characters")
		}
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}

	return s
}
