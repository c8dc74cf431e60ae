package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sift/internal/config"
	"sift/internal/detectcache"
	"sift/internal/history"
	"sift/internal/relocate"
	"sift/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Browse previous runs",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	return historyCmd
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if runs == nil {
					runs = []history.Run{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					run.StartedAt.Local().Format("2006-01-02 15:04"),
					runMode(run),
					run.Policy,
					strconv.Itoa(run.Files),
					strconv.Itoa(run.Candidates),
					strconv.Itoa(run.Errors),
					hitRate(run),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Mode", "Policy", "Files", "Matched", "Errors", "Cache"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	return cmd
}

type historyShowOutput struct {
	history.Run
	Records []relocate.Record `json:"records"`
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its relocation records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return services.Wrap(services.ErrNotFound, "history", "show", fmt.Sprintf("no run matches %q", args[0]), nil)
			}
			records, err := store.Records(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, historyShowOutput{Run: *run, Records: records})
			}

			out := cmd.OutOrStdout()
			printRunDetail(out, *run)
			if len(records) == 0 {
				fmt.Fprintln(out, "No relocation records")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				detail := rec.Target
				if rec.Reason != "" {
					detail = rec.Reason
				}
				rows = append(rows, []string{string(rec.Outcome), rec.Bucket, rec.Source, detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Outcome", "Bucket", "Source", "Target"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run as JSON")
	return cmd
}

func printRunDetail(out io.Writer, run history.Run) {
	rows := [][]string{
		{"Run", run.ID},
		{"Started", run.StartedAt.Local().Format(time.RFC1123)},
		{"Mode", runMode(run)},
		{"Policy", run.Policy},
		{"Duration", run.Duration.Round(time.Millisecond).String()},
		{"Files", strconv.Itoa(run.Files)},
		{"Cached / processed / failed", fmt.Sprintf("%d / %d / %d", run.Cached, run.Processed, run.FailedFiles)},
		{"Matched images", strconv.Itoa(run.Candidates)},
		{"Detections", strconv.Itoa(run.Detections)},
		{"Relocation errors", strconv.Itoa(run.Errors)},
		{"Cache hit rate", hitRate(run)},
	}
	for i, root := range run.Roots {
		label := ""
		if i == 0 {
			label = "Roots"
		}
		rows = append(rows, []string{label, root})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
}

func runMode(run history.Run) string {
	switch {
	case run.DryRun:
		return "dry run"
	case run.Symlinks:
		return "symlink"
	default:
		return "move"
	}
}

func hitRate(run history.Run) string {
	stats := detectcache.Stats{Hits: run.CacheHits, Misses: run.CacheMisses, Invalid: run.CacheInvalid}
	if stats.Lookups() == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", stats.HitRate()*100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
