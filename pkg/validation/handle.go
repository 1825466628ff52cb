// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for user-provided
// values that become file paths or subprocess arguments.
//
// Using these validators prevents path traversal out of the cache root and
// keeps control characters out of runtime command lines.
package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

// handlePattern matches fingerprints usable as a single directory name.
// Computed fingerprints are 32 lowercase hex characters; hand-typed ones
// may use letters, digits, dots, underscores and hyphens.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// ValidateHandle validates a fingerprint before it is joined into a path.
//
// Valid handles:
//   - 1-128 characters
//   - Letters, digits, dots, underscores and hyphens
//   - Not "." or ".."
//
// Example:
//
//	if err := validation.ValidateHandle(fp); err != nil {
//	    return nil, fmt.Errorf("unknown fingerprint: %w", err)
//	}
//	// Safe to join under the cache root
func ValidateHandle(fp string) error {
	if fp == "" {
		return fmt.Errorf("fingerprint cannot be empty")
	}
	if fp == "." || fp == ".." {
		return fmt.Errorf("invalid fingerprint: %q is a relative path segment", fp)
	}
	if !handlePattern.MatchString(fp) {
		return fmt.Errorf("invalid fingerprint format: %q (must be 1-128 letters, digits, dots, underscores or hyphens)", fp)
	}
	return nil
}

// ValidateArgument rejects empty values and values with control characters.
// Use it for user values passed as a single argv element, e.g. a one-time
// transfer code.
func ValidateArgument(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return fmt.Errorf("invalid %s: contains control characters", name)
		}
	}
	return nil
}
