// Package notify surfaces short user-facing messages and the busy indicator
// shown while the expansion tool runs.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Notifier shows user-facing notifications.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Colors used by the terminal notifier.
var (
	infoColor  = lipgloss.Color("#7AA2F7")
	warnColor  = lipgloss.Color("#E0AF68")
	errorColor = lipgloss.Color("#F7768E")
	mutedColor = lipgloss.Color("#565F89")
)

// Terminal writes notifications to a terminal, styled when the writer is a TTY.
// It also implements runner.Progress.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
	busy   bool

	infoStyle, warnStyle, errStyle, mutedStyle lipgloss.Style
}

// NewTerminal creates a notifier writing to w. Styling is enabled when w is
// a terminal.
func NewTerminal(w io.Writer) *Terminal {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return newTerminal(w, styled)
}

func newTerminal(w io.Writer, styled bool) *Terminal {
	t := &Terminal{w: w, styled: styled}
	if styled {
		t.infoStyle = lipgloss.NewStyle().Foreground(infoColor).Bold(true)
		t.warnStyle = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
		t.errStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
		t.mutedStyle = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	}
	return t
}

// Info implements Notifier.
func (t *Terminal) Info(msg string) { t.print(t.infoStyle, "info", msg) }

// Warn implements Notifier.
func (t *Terminal) Warn(msg string) { t.print(t.warnStyle, "warning", msg) }

// Error implements Notifier.
func (t *Terminal) Error(msg string) { t.print(t.errStyle, "error", msg) }

func (t *Terminal) print(style lipgloss.Style, label, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearBusy()
	if t.styled {
		fmt.Fprintf(t.w, "%s %s\n", style.Render(label+":"), msg)
		return
	}
	fmt.Fprintf(t.w, "%s: %s\n", label, msg)
}

// Begin implements runner.Progress. On a terminal it shows title until End.
func (t *Terminal) Begin(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.styled {
		return
	}
	fmt.Fprint(t.w, t.mutedStyle.Render(title+"..."))
	t.busy = true
}

// End implements runner.Progress.
func (t *Terminal) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBusy()
}

// clearBusy erases the progress line; callers hold mu.
func (t *Terminal) clearBusy() {
	if t.busy {
		fmt.Fprint(t.w, "\r\x1b[2K")
		t.busy = false
	}
}

// Message is a notification captured by Recorder.
type Message struct {
	Level string
	Text  string
}

// Recorder is a Notifier that keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Info implements Notifier.
func (r *Recorder) Info(msg string) { r.add("info", msg) }

// Warn implements Notifier.
func (r *Recorder) Warn(msg string) { r.add("warn", msg) }

// Error implements Notifier.
func (r *Recorder) Error(msg string) { r.add("error", msg) }

func (r *Recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Text: msg})
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Info(string)  {}
func (Discard) Warn(string)  {}
func (Discard) Error(string) {}
