// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for sdcli.
//
// These are the user-facing status lines ("Your S3 bridge is already
// running!"). Diagnostics belong in pkg/logging.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#2CD7C7")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes status lines honoring the personality level.
//
// Success and Info go to Out; Warning and Error go to Err so piping the
// output of `sdcli s3 list` stays clean.
type Printer struct {
	Out io.Writer
	Err io.Writer

	// Level overrides the global personality level when non-empty.
	Level PersonalityLevel
}

func (p *Printer) level() PersonalityLevel {
	if p.Level != "" {
		return p.Level
	}
	return GetPersonalityLevel()
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level() {
	case PersonalityMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level() {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level() {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	switch p.level() {
	case PersonalityMachine:
		fmt.Fprintln(p.Out, text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "│ %s\n", text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Box prints a titled block, e.g. connection instructions.
func (p *Printer) Box(title, content string) {
	if p.level() != PersonalityStandard {
		fmt.Fprintf(p.Out, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Table prints rows as aligned columns. Machine mode uses tabs.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.level() == PersonalityMachine {
		for _, r := range rows {
			fmt.Fprintln(p.Out, strings.Join(r, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if len(r[i]) > widths[i] {
				widths[i] = len(r[i])
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i < len(widths) {
				parts[i] = c + strings.Repeat(" ", widths[i]-len(c))
			} else {
				parts[i] = c
			}
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(p.Out, Styles.Bold.Render(line(header)))
	for _, r := range rows {
		fmt.Fprintln(p.Out, line(r))
	}
}
