// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the richness of CLI output
type PersonalityLevel string

const (
	// PersonalityStandard enables colors and icons
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons without colors
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain prefixed lines for scripting
	PersonalityMachine PersonalityLevel = "machine"
)

var (
	currentLevel = PersonalityStandard
	levelMu      sync.RWMutex
)

// GetPersonalityLevel returns the current output level
func GetPersonalityLevel() PersonalityLevel {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return currentLevel
}

// SetPersonalityLevel updates the current output level
func SetPersonalityLevel(level PersonalityLevel) {
	levelMu.Lock()
	defer levelMu.Unlock()
	currentLevel = level
}

// ParsePersonalityLevel converts a string to PersonalityLevel
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "std", "s", "full":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "plain", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level from SDCLI_PERSONALITY, falling back to
// machine output when stdout is not a terminal.
func InitPersonality() {
	if envLevel := os.Getenv("SDCLI_PERSONALITY"); envLevel != "" {
		SetPersonalityLevel(ParsePersonalityLevel(envLevel))
		return
	}
	if !isTerminal(os.Stdout) {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityStandard)
}

// isTerminal reports whether f is a terminal, including Cygwin/MSYS ptys.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
