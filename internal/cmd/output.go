package cmd

import (
	"io"
	"os"

	"golang.org/x/term"
)

// outputWidth returns the terminal width of w, or 0 when w is not a terminal.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil {
		return width
	}
	return 0
}

// shrink reduces a column budget, keeping zero (no limit) as zero.
func shrink(width, by int) int {
	if width <= 0 {
		return 0
	}
	return max(width-by, 20)
}
