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
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Personality
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"full":     PersonalityFull,
		"F":        PersonalityFull,
		"std":      PersonalityStandard,
		"minimal":  PersonalityMinimal,
		"quiet":    PersonalityMachine,
		" machine": PersonalityMachine,
		"unknown":  PersonalityStandard,
		"":         PersonalityStandard,
	}
	for in, want := range tests {
		if got := ParsePersonalityLevel(in); got != want {
			t.Errorf("ParsePersonalityLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectPersonality_EnvWins(t *testing.T) {
	t.Setenv(PersonalityEnv, "minimal")
	if got := DetectPersonality(os.Stdout); got != PersonalityMinimal {
		t.Errorf("DetectPersonality() = %q, want %q", got, PersonalityMinimal)
	}
}

func TestDetectPersonality_NotATerminal(t *testing.T) {
	t.Setenv(PersonalityEnv, "")
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got := DetectPersonality(f); got != PersonalityMachine {
		t.Errorf("DetectPersonality(file) = %q, want %q", got, PersonalityMachine)
	}
	if IsTerminal(nil) {
		t.Error("IsTerminal(nil) should be false")
	}
}

// =============================================================================
// Printer
// =============================================================================

func TestPrinter_MachineLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PersonalityMachine)

	p.Title("ignored")
	p.Success("deployed")
	p.Info("plain")
	p.Warning("careful")
	p.Error("broken")

	if got, want := out.String(), "OK: deployed\nplain\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
	if got, want := errOut.String(), "WARN: careful\nERROR: broken\n"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestPrinter_MinimalLevelHasIconsWithoutColor(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityMinimal)

	p.Success("deployed")
	p.Error("broken")

	want := "✓ deployed\n✗ broken\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if strings.Contains(out.String(), "\x1b[") {
		t.Error("minimal output should not contain escape codes")
	}
}

func TestPrinter_StandardLevel(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityStandard)

	p.Title("Deploy Helper")
	p.Success("deployed")
	p.Box("Status", "all good")

	s := out.String()
	for _, want := range []string{"Deploy Helper", "✓", "deployed", "Status", "all good"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestPrinter_KeyValues(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityMachine)
	p.KeyValues(map[string]string{"path": "public/index.html", "fileType": "html"})

	want := "fileType=html\npath=public/index.html\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	out.Reset()
	p.Level = PersonalityMinimal
	p.KeyValues(map[string]string{"a": "1", "long": "2"})
	if want := "  a:    1\n  long: 2\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

// =============================================================================
// Spinner
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityMachine)

	err := p.WithSpinner("Deploying index.html", func() error { return nil })
	if err != nil {
		t.Fatalf("WithSpinner() error = %v", err)
	}
	want := "PROGRESS: Deploying index.html\nOK: Deploying index.html\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestWithSpinner_Failure(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PersonalityMachine)

	boom := errors.New("store unavailable")
	if err := p.WithSpinner("Deploying", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithSpinner() error = %v, want %v", err, boom)
	}
	if !strings.Contains(errOut.String(), "ERROR: Deploying: store unavailable") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	var out syncBuffer
	p := NewPrinter(&out, nil, PersonalityFull)

	spin := p.NewSpinner("Waiting")
	spin.Start()
	spin.Start() // no-op
	time.Sleep(3 * spinnerInterval)
	spin.UpdateMessage("Still waiting")
	spin.Stop()
	spin.Stop() // no-op

	s := out.String()
	if !strings.Contains(s, "Waiting") {
		t.Errorf("spinner never drew its message: %q", s)
	}
	if !strings.HasSuffix(s, "\r\033[K") {
		t.Errorf("spinner line not cleared: %q", s)
	}
}
