package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/macroexpand/internal/artifact"
	"github.com/Iron-Ham/macroexpand/internal/config"
	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/history"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/notify"
	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/runner"
	"github.com/Iron-Ham/macroexpand/internal/session"
)

// app holds the collaborators shared by the long-running commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *event.Bus
	terminal *notify.Terminal
	registry registry.Registry
	store    *session.Store
	history  *history.Store
}

// newApp wires a session store from cfg. Artifacts are announced on out;
// with showContent their content is printed as well.
func newApp(cfg *config.Config, out, errOut io.Writer, showContent bool) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      event.NewBus(logger),
		terminal: notify.NewTerminal(errOut),
	}

	tool := runner.New(a.terminal, logger)

	var presenter artifact.Presenter
	if cfg.Viewer.OpenCommand != "" {
		presenter = artifact.NewCommandPresenter(cfg.Viewer.OpenCommand, runner.New(nil, logger))
	} else {
		var read func(string) ([]byte, error)
		if showContent {
			read = os.ReadFile
		}
		presenter = artifact.NewWriterPresenter(out, read)
	}

	if cfg.Registry.SettingsFile != "" {
		a.registry = registry.NewSettingsFile(cfg.Registry.ResolveSettingsFile(), cfg.Registry.Key)
	} else {
		a.registry = registry.NewMemory()
	}

	fs := afero.NewOsFs()
	renderer := artifact.NewRenderer(tool, presenter,
		artifact.WithFs(fs),
		artifact.WithNotifier(a.terminal),
		artifact.WithBus(a.bus),
		artifact.WithTimestampFormat(cfg.Viewer.TimestampFormat),
		artifact.WithLogger(logger),
	)

	a.store = session.NewStore(session.Config{
		Renderer:  renderer,
		Presenter: presenter,
		Registry:  a.registry,
		Notifier:  a.terminal,
		Bus:       a.bus,
		Fs:        fs,
		Logger:    logger,
		Tool:      cfg.Tool.Command,
		Flags:     cfg.Tool.Flags,
		TempDir:   cfg.Workspace.ResolveTempDir(),
		Prefix:    cfg.Workspace.Prefix,
		Timeout:   cfg.Tool.Timeout,
		Settings:  cfg.Settings,
	})

	if cfg.History.Enabled {
		hist, err := history.Open(cfg.History.ResolvePath(), logger)
		if err != nil {
			logger.Warn("render history disabled", "error", err.Error())
		} else {
			hist.Subscribe(a.bus)
			a.history = hist
		}
	}

	return a, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLoggerWithRotation(config.StateDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

// followConfig publishes a settings change whenever the config file is
// edited. It does nothing when no config file was read.
func (a *app) followConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	config.WatchChanges(viper.GetViper(), func(cfg *config.Config) {
		a.logger.Info("configuration reloaded", "file", viper.ConfigFileUsed())
		a.bus.Publish(event.NewSettingsChangedEvent(cfg.Settings))
	}, func(err error) {
		a.terminal.Warn("ignoring invalid configuration change: " + err.Error())
	})
}

// close disposes every session, then releases history and logging.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
