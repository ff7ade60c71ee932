package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/codex-crawler/pkg/output"
)

// NewCrawlCmd creates the crawl command (link discovery only).
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <site>",
		Short: "Discover the addresses of a site",
		Long: `Crawl runs the link discovery stage for one site: starting from the seeds,
pages are fetched by a fixed pool of workers and every accepted link is recorded.
Only addresses passing the site's admission rule are visited in turn.

Writes discovered_urls.txt, admitted_urls.txt, done_urls.txt, links_metadata.yaml
and summary.md to <output_base_dir>/<site>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resume, _ := cmd.Flags().GetBool("resume")
			return executePipeline(cmd, args, false, orchestrate.Options{Links: true}, resume)
		},
	}
	cmd.Flags().Bool("resume", false, "Reuse the crawl state in state_dir")
	return cmd
}

// NewRecordsCmd creates the records command (structured extraction only).
func NewRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records <site>",
		Short: "Extract records from a list of addresses",
		Long: `Records runs the structured extraction stage for one site. Each address is
fetched once per configured locale and one record is exported per address.

Addresses come from --urls (one per line, # comments allowed), or from the
site's records.urls setting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := orchestrate.Options{Records: true}
			if path, _ := cmd.Flags().GetString("urls"); path != "" {
				urls, err := output.ReadURLList(path)
				if err != nil {
					return err
				}
				if len(urls) == 0 {
					return fmt.Errorf("no addresses in %s", path)
				}
				opts.RecordURLs = urls
			}
			resume, _ := cmd.Flags().GetBool("resume")
			return executePipeline(cmd, args, false, opts, resume)
		},
	}
	cmd.Flags().String("urls", "", "File listing the addresses to extract")
	cmd.Flags().Bool("resume", false, "Keep records already extracted into state_dir")
	return cmd
}

// NewRunCmd creates the run command (both stages, sites in parallel).
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [site...]",
		Short: "Run link discovery then record extraction",
		Long: `Run executes the full pipeline for each given site, or every site with --all.
Sites run in parallel and share the HTTP client and the max_requests budget.
Record addresses are selected from the discovered set with the site's
records.include_patterns and records.exclude_patterns.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all == (len(args) > 0) {
				return errors.New("give one or more site keys, or --all")
			}
			resume, _ := cmd.Flags().GetBool("resume")
			return executePipeline(cmd, args, all, orchestrate.Options{Links: true, Records: true}, resume)
		},
	}
	cmd.Flags().Bool("all", false, "Run every configured site")
	cmd.Flags().Bool("resume", false, "Reuse the crawl state in state_dir")
	return cmd
}

// executePipeline loads the config and runs the selected stages for the sites
func executePipeline(cmd *cobra.Command, siteKeys []string, allSites bool, opts orchestrate.Options, resume bool) error {
	log := newLogger(cmd)
	appCfg, siteKeys, err := prepareSites(cmd, log, siteKeys, allSites, resume)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), log)
	defer stop()

	results := orchestrate.NewOrchestrator(appCfg, siteKeys, opts, logrus.NewEntry(log)).Run(ctx)

	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn("Crawl cancelled gracefully.")
		return nil
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d site(s) failed", failed, len(results))
	}
	return nil
}

// prepareSites loads and validates the config and resolves the site keys to run
func prepareSites(cmd *cobra.Command, log *logrus.Logger, siteKeys []string, allSites, resume bool) (*config.AppConfig, []string, error) {
	appCfg, err := loadAndValidateConfig(configPath(cmd), log)
	if err != nil {
		return nil, nil, err
	}
	if resume {
		if appCfg.StateDir == "" {
			log.Warn("--resume has no effect without state_dir")
		} else {
			appCfg.Resume = true
		}
	}

	if allSites {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		if len(siteKeys) == 0 {
			return nil, nil, errors.New("no sites configured")
		}
	}
	if err := validateSiteConfigs(appCfg, siteKeys, log); err != nil {
		return nil, nil, err
	}
	logAppConfig(appCfg, log)
	return appCfg, siteKeys, nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
// A second signal exits immediately.
func signalContext(parent context.Context, log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
