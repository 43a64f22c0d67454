package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/macroexpand/internal/history"
	"github.com/Iron-Ham/macroexpand/internal/util"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent renders",
	RunE:  runHistory,
}

var (
	historyLimit  int
	historySource string
	historyJSON   bool
	historyPrune  int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of renders to show (default from history.limit)")
	historyCmd.Flags().StringVar(&historySource, "source", "", "Only show renders of this source file")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "Delete all but the newest N renders")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("render history is disabled (history.enabled = false)")
	}
	limit := cfg.History.Limit
	if historyLimit > 0 {
		limit = historyLimit
	}

	store, err := history.Open(cfg.History.ResolvePath(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if historyPrune > 0 {
		removed, err := store.Prune(ctx, historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pruned %d render(s).\n", removed)
		return nil
	}

	var entries []history.Entry
	if historySource != "" {
		entries, err = store.ForSource(ctx, historySource, limit)
	} else {
		entries, err = store.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []history.Entry{}
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No renders recorded.")
		return nil
	}
	width := outputWidth(out)
	fmt.Fprintln(out, strings.Repeat("─", 70))
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed"
			if e.Error != "" {
				status += " (" + e.Error + ")"
			}
		}
		fmt.Fprintf(out, "%s  %-6s  %s\n", e.StartedAt.Format(time.DateTime), e.Trigger, util.TruncatePath(e.SourcePath, shrink(width, 29)))
		line := fmt.Sprintf("%s  %s  %s", e.Command, e.Duration.Round(time.Millisecond), status)
		fmt.Fprintf(out, "    %s\n", util.Truncate(line, shrink(width, 4)))
	}
	fmt.Fprintln(out, strings.Repeat("─", 70))
	return nil
}
