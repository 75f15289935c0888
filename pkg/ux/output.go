// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles terminal output for the deployhelper CLI.
package ux

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette: deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconRunning Icon = "●"
)

// Render returns the icon with its color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess, IconRunning:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled lines. Machine level writes plain prefixed lines;
// warnings and errors at that level go to Err.
//
// The zero value is not usable; use NewPrinter.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level PersonalityLevel
}

// NewPrinter returns a Printer. errOut defaults to out.
func NewPrinter(out, errOut io.Writer, level PersonalityLevel) *Printer {
	if errOut == nil {
		errOut = out
	}
	return &Printer{Out: out, Err: errOut, Level: level}
}

// Colored reports whether the level uses lipgloss colors.
func (p *Printer) Colored() bool {
	return p.Level == PersonalityFull || p.Level == PersonalityStandard
}

// Style renders text with s when the level is colored.
func (p *Printer) Style(s lipgloss.Style, text string) string {
	if !p.Colored() {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	if p.Colored() {
		return i.Render()
	}
	return string(i)
}

// Title prints a heading. Machine level prints nothing.
func (p *Printer) Title(text string) {
	if p.Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(p.Out, p.Style(Styles.Title, text))
}

// Success prints text with a check mark.
func (p *Printer) Success(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintf(p.Out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.icon(IconSuccess), p.Style(Styles.Success, text))
}

// Warning prints a warning.
func (p *Printer) Warning(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.icon(IconWarning), p.Style(Styles.Warning, text))
}

// Error prints an error.
func (p *Printer) Error(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.icon(IconError), p.Style(Styles.Error, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", p.Style(Styles.Muted, "│"), text)
}

// Box prints content in a rounded box under title.
func (p *Printer) Box(title, content string) {
	if !p.Colored() {
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// KeyValues prints fields sorted by key, aligned on the longest key.
func (p *Printer) KeyValues(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if p.Level == PersonalityMachine {
			fmt.Fprintf(p.Out, "%s=%s\n", k, fields[k])
			continue
		}
		label := k + ":" + strings.Repeat(" ", width-len(k))
		fmt.Fprintf(p.Out, "  %s %s\n", p.Style(Styles.Muted, label), fields[k])
	}
}
