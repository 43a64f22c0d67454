package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/macroexpand/internal/cleanup"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/registry"
	"github.com/Iron-Ham/macroexpand/internal/util"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove workspaces left behind by exited processes",
	Long: `Cleanup removes expansion workspaces whose owning process is no longer
running, along with their entries in the registry settings file.

Workspaces are looked up in workspace.temp_dir by their workspace.prefix.
Use --dry-run to see what would be removed without making changes.`,
	RunE: runCleanup,
}

var cleanupDryRun bool

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fs := afero.NewOsFs()
	dir := cfg.Workspace.ResolveTempDir()

	stale, err := cleanup.Scan(fs, dir, cfg.Workspace.Prefix)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Fprintln(out, "No stale workspaces found.")
		return nil
	}

	width := outputWidth(out)
	fmt.Fprintf(out, "Stale workspaces (%d):\n", len(stale))
	for _, s := range stale {
		fmt.Fprintf(out, "  - %s (%s)\n", util.TruncatePath(s.Path, shrink(width, len(s.Reason)+7)), s.Reason)
	}
	if cleanupDryRun {
		fmt.Fprintln(out, "\nDry run: nothing was removed.")
		return nil
	}

	var reg registry.Registry
	if cfg.Registry.SettingsFile != "" {
		reg = registry.NewSettingsFile(cfg.Registry.ResolveSettingsFile(), cfg.Registry.Key)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		logger = logging.NopLogger()
	}
	defer func() { _ = logger.Close() }()

	results, err := cleanup.NewRemover(fs, reg, logger).Remove(cmd.Context(), stale)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nRemoved %d workspace(s)", results.Removed)
	if results.Unregistered > 0 {
		fmt.Fprintf(out, ", unregistered %d manifest(s)", results.Unregistered)
	}
	fmt.Fprintln(out, ".")
	if len(results.Errors) > 0 {
		return fmt.Errorf("cleanup finished with errors:\n  %s", strings.Join(results.Errors, "\n  "))
	}
	return nil
}
