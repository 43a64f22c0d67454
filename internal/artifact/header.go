package artifact

import (
	"strings"

	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/errors"
)

// LineBreak separates artifact lines.
const LineBreak = "\r\n"

// Provenance is the first line of every artifact.
const Provenance = "// Generated by macroexpand"

// HeaderData are the values echoed in the artifact header.
type HeaderData struct {
	Timestamp  string
	Command    string
	SourcePath string
}

// ComposeHeader returns the header lines enabled by settings, in fixed
// order, followed by the blank separator line.
func ComposeHeader(settings config.Settings, data HeaderData) string {
	var b strings.Builder
	b.WriteString(Provenance + LineBreak)
	if settings.DisplayTimestamp {
		b.WriteString("// Timestamp: " + data.Timestamp + LineBreak)
	}
	if settings.DisplayCargoCommand {
		b.WriteString("// Expand command: " + data.Command + LineBreak)
	}
	if settings.DisplayCargoCommandPath {
		b.WriteString("// Executed in: " + data.SourcePath + LineBreak)
	}
	b.WriteString(LineBreak)
	return b.String()
}

// FailureBlock renders a failed run as a block comment holding the status
// and the captured diagnostics.
func FailureBlock(err error) string {
	var b strings.Builder
	b.WriteString("/*" + LineBreak)
	b.WriteString("Executing command failed!" + LineBreak)

	var execErr *errors.ExecutionError
	if errors.As(err, &execErr) {
		b.WriteString(neutralize(execErr.Status()) + LineBreak)
		if stderr := strings.TrimSpace(execErr.Stderr); stderr != "" {
			b.WriteString(LineBreak + neutralize(stderr) + LineBreak)
		}
	} else if err != nil {
		b.WriteString(neutralize(err.Error()) + LineBreak)
	}

	b.WriteString("*/" + LineBreak)
	return b.String()
}

// WarningsBlock renders diagnostics of a successful run as a block comment.
func WarningsBlock(stderr string) string {
	return "/* Warnings:" + LineBreak + neutralize(strings.TrimSpace(stderr)) + LineBreak + "*/" + LineBreak
}

// neutralize keeps text from terminating the enclosing block comment.
func neutralize(text string) string {
	return strings.ReplaceAll(text, "*/", "* /")
}

// CountWarnings counts diagnostics starting with "warning" in stderr. Any
// non-empty stderr counts as at least one.
func CountWarnings(stderr string) int {
	if strings.TrimSpace(stderr) == "" {
		return 0
	}
	count := 0
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "warning") {
			count++
		}
	}
	return max(count, 1)
}
