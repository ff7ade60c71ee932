package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/codex-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/codex-crawler/pkg/watch"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [site...]",
		Short: "Re-run the pipeline for sites on a schedule",
		Long: `Watch runs the full pipeline for each site whose interval has elapsed since
its last run, then keeps checking until interrupted. Last-run times are kept in
watch_state.yaml under state_dir (or output_base_dir when state_dir is unset).

Examples:
  codex-crawler watch orna_spells --interval 24h
  codex-crawler watch --all --interval 7d`,
		Args: cobra.ArbitraryArgs,
		RunE: runWatchCmd,
	}
	cmd.Flags().Bool("all", false, "Watch every configured site")
	cmd.Flags().String("interval", "24h", "Crawl interval (e.g. 30m, 1h, 24h, 7d)")
	return cmd
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return errors.New("give one or more site keys, or --all")
	}
	intervalStr, _ := cmd.Flags().GetString("interval")
	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	log := newLogger(cmd)
	appCfg, siteKeys, err := prepareSites(cmd, log, args, all, false)
	if err != nil {
		return err
	}
	stateDir := appCfg.StateDir
	if stateDir == "" {
		stateDir = appCfg.OutputBaseDir
	}

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	entry := log.WithField("component", "watch")
	run := func(ctx context.Context, keys []string) []orchestrate.SiteResult {
		opts := orchestrate.Options{Links: true, Records: true}
		return orchestrate.NewOrchestrator(appCfg, keys, opts, logrus.NewEntry(log)).Run(ctx)
	}
	if err := watch.NewScheduler(siteKeys, interval, stateDir, run, entry).Run(ctx); err != nil {
		return err
	}
	log.Info("Watch mode stopped")
	return nil
}
