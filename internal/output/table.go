// Package output provides terminal output utilities for npmdash.
//
// This package includes:
//   - Table rendering for download totals and period options
//   - Status, timestamp and error banner lines
//   - A spinner for the first load
//
// Rendering functions return strings; callers decide where they go.
// Colors are only emitted when stdout is a TTY and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

const (
	// Placeholder shows a count that has never been fetched.
	Placeholder = "—"
	// Skeleton stands in for a count during the first load.
	Skeleton = "░░░░░░"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// FormatCount renders n with en-US thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// RenderDownloadsTable renders one row per tracked package, in the order
// given. Counts missing from the snapshot show a skeleton on first load and
// a dash otherwise.
func RenderDownloadsTable(pkgs []config.TrackedPackage, snap dashboard.Snapshot) string {
	if len(pkgs) == 0 {
		return "No packages tracked.\n"
	}

	label := snap.PeriodLabel()
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("%-24s %-40s %14s  %s\n",
		"Package", "Name", "Downloads", "Period"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	// Rows
	for _, pkg := range pkgs {
		count := Placeholder
		if n, ok := snap.Downloads(pkg.Name); ok {
			count = FormatCount(n)
		} else if snap.IsLoading() {
			count = Skeleton
		}

		sb.WriteString(fmt.Sprintf("%-24s %-40s %14s  %s\n",
			truncate(pkg.DisplayName, 24),
			truncate(pkg.Name, 40),
			count,
			"downloads • "+label))
	}

	return sb.String()
}

// RenderStatusLine summarises the fetch status, e.g.
// "Last 7 days · Updated 09:30 (just now)" or "Last 7 days · Refreshing...".
func RenderStatusLine(snap dashboard.Snapshot, now time.Time) string {
	parts := []string{snap.PeriodLabel()}

	switch snap.Status {
	case dashboard.StatusLoading:
		if snap.IsLoading() {
			parts = append(parts, colorize(colorYellow, "Loading..."))
		} else {
			parts = append(parts, colorize(colorYellow, "Refreshing..."))
		}
	case dashboard.StatusError:
		parts = append(parts, colorize(colorRed, "Failed"))
	}

	if !snap.LastUpdated.IsZero() {
		parts = append(parts, fmt.Sprintf("%s (%s)",
			FormatUpdated(snap.LastUpdated),
			formatRelativeTime(snap.LastUpdated, now)))
	}

	return strings.Join(parts, " · ")
}

// FormatUpdated renders the last-updated stamp as "Updated HH:MM" in local time.
func FormatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "Updated " + t.Local().Format("15:04")
}

// RenderErrorBanner renders the single error line, or "" when msg is empty.
func RenderErrorBanner(msg string) string {
	if msg == "" {
		return ""
	}
	return colorize(colorRed, colorize(colorBold, "Heads up:")+" "+msg) + "\n"
}

// RenderPeriodTable lists the selectable periods with their shortcut number.
// The selected period is marked with "*".
func RenderPeriodTable(periods []config.PeriodOption, selected config.PeriodKey) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-3s %-12s %s\n", "#", "Key", "Label"))
	sb.WriteString(strings.Repeat("─", 36))
	sb.WriteString("\n")

	for i, p := range periods {
		marker := " "
		if p.Key == selected {
			marker = "*"
		}
		line := fmt.Sprintf("%-3s %-12s %s %s", fmt.Sprintf("%d", i+1), p.Key, p.Label, marker)
		if p.Key == selected {
			line = colorize(colorGreen, line)
		}
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderView renders the full terminal view: banner, status line and table.
func RenderView(pkgs []config.TrackedPackage, snap dashboard.Snapshot, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(RenderErrorBanner(snap.Error))
	sb.WriteString(RenderStatusLine(snap, now))
	sb.WriteString("\n\n")
	sb.WriteString(RenderDownloadsTable(pkgs, snap))
	return sb.String()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 minutes ago").
func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
