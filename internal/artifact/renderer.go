// Package artifact renders the output of the expansion tool into the
// generated artifact file and presents it.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/notify"
	"github.com/Iron-Ham/macroexpand/internal/runner"
)

// DefaultTimestampFormat is the layout of the header timestamp.
const DefaultTimestampFormat = "2006-01-02 15:04:05"

// Job identifies what to render and where.
type Job struct {
	SessionID    string
	SourcePath   string
	CrateDir     string
	Command      string
	ArtifactPath string
	Trigger      event.Trigger
}

// Result describes a completed render.
type Result struct {
	Content   string
	OK        bool
	ExitCode  int   // 0 on success, -1 when the tool did not exit normally
	ToolErr   error // the tool failure rendered into Content, nil on success
	Warnings  int
	StartedAt time.Time
	Duration  time.Duration
}

// Renderer runs the tool for a Job, writes the artifact and presents it.
type Renderer struct {
	runner          runner.Runner
	presenter       Presenter
	fs              afero.Fs
	notifier        notify.Notifier
	bus             *event.Bus
	now             func() time.Time
	timestampFormat string
	logger          *logging.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFs sets the filesystem artifacts are written to.
func WithFs(fs afero.Fs) Option { return func(r *Renderer) { r.fs = fs } }

// WithNotifier sets where warning notifications go.
func WithNotifier(n notify.Notifier) Option { return func(r *Renderer) { r.notifier = n } }

// WithBus publishes an ArtifactRenderedEvent after every render.
func WithBus(bus *event.Bus) Option { return func(r *Renderer) { r.bus = bus } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Renderer) { r.now = now } }

// WithTimestampFormat sets the header timestamp layout.
func WithTimestampFormat(layout string) Option {
	return func(r *Renderer) {
		if layout != "" {
			r.timestampFormat = layout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRenderer creates a Renderer.
func NewRenderer(run runner.Runner, presenter Presenter, opts ...Option) *Renderer {
	r := &Renderer{
		runner:          run,
		presenter:       presenter,
		fs:              afero.NewOsFs(),
		notifier:        notify.Discard{},
		now:             time.Now,
		timestampFormat: DefaultTimestampFormat,
		logger:          logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("renderer")
	return r
}

// Render runs the job's command in its crate directory and writes the
// artifact: the header and output on success, only the failure block
// otherwise. A failing tool is rendered into the artifact and never returned;
// the only errors are failures to write or present the artifact.
func (r *Renderer) Render(ctx context.Context, job Job, settings config.Settings, focus bool) (Result, error) {
	start := r.now()
	out, toolErr := r.runner.Run(ctx, job.Command, job.CrateDir)

	result := Result{StartedAt: start, OK: toolErr == nil, ToolErr: toolErr}
	if toolErr == nil {
		result.Warnings = CountWarnings(out.Stderr)
		result.Content = ComposeHeader(settings, HeaderData{
			Timestamp:  start.Format(r.timestampFormat),
			Command:    job.Command,
			SourcePath: job.SourcePath,
		})
		if settings.DisplayWarnings && result.Warnings > 0 {
			result.Content += WarningsBlock(out.Stderr)
		}
		result.Content += out.Stdout
	} else {
		// A failed run replaces the whole artifact, header included.
		result.ExitCode = -1
		var execErr *errors.ExecutionError
		if errors.As(toolErr, &execErr) {
			result.ExitCode = execErr.ExitCode
		}
		result.Content = FailureBlock(toolErr)
	}

	logger := r.logger.WithSession(job.SessionID).WithSource(job.SourcePath)
	err := r.write(ctx, job, result.Content, focus)
	result.Duration = r.now().Sub(start)

	if toolErr != nil {
		logger.Warn("render failed", "command", job.Command, "error", toolErr.Error())
	} else {
		logger.Info("rendered", "command", job.Command, "warnings", result.Warnings, "duration_ms", result.Duration.Milliseconds())
	}
	if settings.NotifyWarnings && result.Warnings > 0 {
		r.notifier.Warn(fmt.Sprintf("expansion of %s reported %d warning(s)", job.SourcePath, result.Warnings))
	}
	r.publish(job, result, err)
	return result, err
}

func (r *Renderer) write(ctx context.Context, job Job, content string, focus bool) error {
	if err := afero.WriteFile(r.fs, job.ArtifactPath, []byte(content), 0644); err != nil {
		return errors.NewResourceError("write artifact", err).WithPath(job.ArtifactPath)
	}
	if r.presenter == nil {
		return nil
	}
	if err := r.presenter.Show(ctx, job.ArtifactPath, focus); err != nil {
		return errors.NewResourceError("present artifact", err).WithPath(job.ArtifactPath)
	}
	return nil
}

func (r *Renderer) publish(job Job, result Result, writeErr error) {
	if r.bus == nil {
		return
	}
	outcome := event.RenderOutcome{
		SessionID:    job.SessionID,
		SourcePath:   job.SourcePath,
		Command:      job.Command,
		ArtifactPath: job.ArtifactPath,
		Trigger:      job.Trigger,
		OK:           result.OK && writeErr == nil,
		ExitCode:     result.ExitCode,
		StartedAt:    result.StartedAt,
		Duration:     result.Duration,
	}
	switch {
	case writeErr != nil:
		outcome.Error = writeErr.Error()
	case result.ToolErr != nil:
		var execErr *errors.ExecutionError
		if errors.As(result.ToolErr, &execErr) {
			outcome.Error = execErr.Status()
		} else {
			outcome.Error = result.ToolErr.Error()
		}
	}
	r.bus.Publish(event.NewArtifactRenderedEvent(outcome))
}
