// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the richness of CLI output.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons, boxes and spinners
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard enables colors and icons but no spinners
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons without color
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain prefixed lines for scripts
	PersonalityMachine PersonalityLevel = "machine"
)

// PersonalityEnv overrides terminal detection.
const PersonalityEnv = "DEPLOYHELPER_OUTPUT"

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown values
// map to PersonalityStandard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// DetectPersonality picks a level for output written to f.
//
// DEPLOYHELPER_OUTPUT wins. Otherwise a terminal gets PersonalityFull (or
// PersonalityMinimal when NO_COLOR is set) and anything else gets
// PersonalityMachine.
func DetectPersonality(f *os.File) PersonalityLevel {
	if env := os.Getenv(PersonalityEnv); env != "" {
		return ParsePersonalityLevel(env)
	}
	if !IsTerminal(f) {
		return PersonalityMachine
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return PersonalityMinimal
	}
	return PersonalityFull
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
