package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var expandCmd = &cobra.Command{
	Use:   "expand <file.rs>...",
	Short: "Expand the macros of one or more Rust source files",
	Long: `Expand runs the expansion tool for the module each file belongs to and
prints the expanded code.

By default the workspaces are removed before exiting. Use --keep to leave
them in place (for example to open them in an editor); 'macroexpand cleanup'
removes them later.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExpand,
}

var expandKeep bool

func init() {
	rootCmd.AddCommand(expandCmd)
	expandCmd.Flags().BoolVar(&expandKeep, "keep", false, "Keep the workspaces after exiting")
}

func runExpand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), !expandKeep)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range args {
		info, err := a.store.ExpandFile(ctx, path)
		if err != nil {
			failed++
			continue
		}
		if expandKeep {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", info.SourcePath, info.ArtifactPath)
		}
		if !info.LastOK {
			failed++
		}
	}

	if expandKeep {
		if a.history != nil {
			_ = a.history.Close()
		}
		_ = a.logger.Close()
	} else if err := a.close(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be expanded", failed, len(args))
	}
	return nil
}
