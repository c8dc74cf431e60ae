package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sift/internal/detectcache"
	"sift/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the detection cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

type cacheStatsOutput struct {
	Dir     string `json:"dir"`
	Enabled bool   `json:"enabled"`
	detectcache.Usage
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache location, entry count, and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache, err := detectcache.Open(cfg.Paths.CacheDir, logging.NewNop())
			if err != nil {
				return err
			}
			usage, err := cache.Usage()
			if err != nil {
				return fmt.Errorf("measure cache: %w", err)
			}
			if jsonOut {
				return writeJSON(cmd, cacheStatsOutput{Dir: cache.Dir(), Enabled: cfg.Cache.Enabled, Usage: usage})
			}
			rows := [][]string{
				{"Directory", cache.Dir()},
				{"Enabled", yesNo(cfg.Cache.Enabled)},
				{"Entries", humanize.Comma(int64(usage.Entries))},
				{"Size", humanize.Bytes(uint64(usage.Bytes))},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Cache", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print usage as JSON")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			cache, err := detectcache.Open(cfg.Paths.CacheDir, logger)
			if err != nil {
				return err
			}
			removed, err := cache.Clear()
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s cache entries from %s\n", humanize.Comma(int64(removed)), cache.Dir())
			return nil
		},
	}
}
