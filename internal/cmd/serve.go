package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/macroexpand/internal/server"
	"github.com/Iron-Ham/macroexpand/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session store over a local HTTP API",
	Long: `Serve starts an HTTP API for editor integrations:

  GET  /health             liveness and session count
  POST /expand             {"path": "..."} expand a file
  POST /documents/saved    {"path": "..."} re-render on save
  POST /documents/closed   {"path": "..."} dispose the session
  GET  /sessions           live sessions
  GET  /history?limit=N    recent renders

With --watch, saves of expanded files are also detected on disk.`,
	RunE: runServe,
}

var (
	serveAddr  string
	serveWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Re-render expanded files when they change on disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

	a.store.Subscribe(a.bus)
	a.followConfig()

	if serveWatch {
		w, err := watch.New(a.bus, cfg.Watch.DebounceInterval(), a.logger)
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		w.Start()
		defer w.Stop()
	}

	opts := []server.Option{server.WithLogger(a.logger)}
	if a.history != nil {
		opts = append(opts, server.WithHistory(a.history, cfg.History.Limit))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s\n", addr)
	return server.New(a.store, opts...).ListenAndServe(ctx, addr)
}
