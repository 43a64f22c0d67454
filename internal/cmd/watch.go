package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/macroexpand/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file.rs>...",
	Short: "Expand files and re-expand them whenever they are saved",
	Long: `Watch expands each file and then keeps its session open: every save
re-renders the artifact in place. Changes to the config file take effect on
the next render. Press Ctrl+C to stop; all workspaces are removed on exit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

	a.store.Subscribe(a.bus)
	w, err := watch.New(a.bus, cfg.Watch.DebounceInterval(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	w.Start()
	defer w.Stop()
	a.followConfig()

	for _, path := range args {
		_, _ = a.store.ExpandFile(ctx, path)
	}
	if len(a.store.Sessions()) == 0 {
		return fmt.Errorf("no file could be expanded")
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d file(s). Press Ctrl+C to stop.\n", len(w.Tracked()))
	<-ctx.Done()
	return nil
}
