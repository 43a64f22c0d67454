// Package util holds small text helpers for terminal output.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// Truncate shortens s to width visual columns, ending it with "...". It is
// aware of ANSI escape codes and wide characters. A width of zero or less
// leaves s unchanged.
func Truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width <= len(ellipsis) {
		return ellipsis
	}
	return ansi.Truncate(s, width, ellipsis)
}

// TruncatePath is like Truncate but drops the start of s, keeping the file
// name and its nearest directories visible.
func TruncatePath(s string, width int) string {
	w := lipgloss.Width(s)
	if width <= 0 || w <= width {
		return s
	}
	if width <= len(ellipsis) {
		return ellipsis
	}
	return ansi.TruncateLeft(s, w-width+len(ellipsis), ellipsis)
}
