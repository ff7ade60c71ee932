package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/fetch"
	"github.com/Sriram-PR/codex-crawler/pkg/storage"
)

// Options selects which stages run
type Options struct {
	Links   bool
	Records bool
	// RecordURLs overrides both the configured record URLs and the selection
	// from the link stage.
	RecordURLs []string
}

// SiteResult contains the result of running the pipeline for a single site
type SiteResult struct {
	SiteKey    string
	Success    bool
	Error      error
	Stages     []StageResult
	RecordURLs int
	OutputDir  string
	Duration   time.Duration
}

// Orchestrator runs the crawl pipeline for several sites in parallel.
// The HTTP client and the request semaphore are shared by every site.
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	siteKeys []string
	opts     Options

	httpClient      *http.Client
	globalSemaphore *semaphore.Weighted

	results   []SiteResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates an orchestrator for the given sites. appCfg must have been validated.
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, opts Options, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		appCfg:          appCfg,
		log:             log,
		siteKeys:        siteKeys,
		opts:            opts,
		httpClient:      fetch.NewClient(appCfg.HTTPClientSettings, log),
		globalSemaphore: semaphore.NewWeighted(int64(max(appCfg.MaxRequests, 1))),
		results:         make([]SiteResult, 0, len(siteKeys)),
	}
}

// Run runs every site in parallel and waits for all of them.
// Results are returned in site key order.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting crawl of %d site(s): %v", len(o.siteKeys), o.siteKeys)

	var g errgroup.Group
	for _, siteKey := range o.siteKeys {
		g.Go(func() error {
			result := o.RunSite(ctx, siteKey)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.resultsMu.Lock()
	results := append([]SiteResult(nil), o.results...)
	o.resultsMu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].SiteKey < results[j].SiteKey })

	o.logSummary(results, time.Since(startTime))
	return results
}

// RunSite runs the configured stages for one site
func (o *Orchestrator) RunSite(ctx context.Context, siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}
	siteLog := o.log.WithField("site_key", siteKey)

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		siteLog.Error(result.Error)
		return result
	}

	p, err := newPipeline(o, siteKey, siteCfg, siteLog)
	if err != nil {
		result.Error = err
		siteLog.Errorf("Failed to prepare site: %v", err)
		return result
	}
	result.OutputDir = p.out.Dir()

	result.Stages, result.RecordURLs, result.Error = p.run(ctx)
	result.Success = result.Error == nil
	result.Duration = time.Since(startTime)
	if result.Error != nil {
		siteLog.Errorf("Pipeline failed: %v", result.Error)
	} else {
		siteLog.Infof("Pipeline completed in %v", result.Duration)
	}
	return result
}

// openStore returns the page/record store for one stage of a site.
// Without a state dir the store lives in memory.
func (o *Orchestrator) openStore(siteKey, stage string, log *logrus.Entry) (storage.CrawlStore, error) {
	if o.appCfg.StateDir == "" {
		return storage.NewMemoryStore(log), nil
	}
	return storage.NewBadgerStore(o.appCfg.StateDir, siteKey+"_"+stage, o.appCfg.Resume, log)
}

// newFetcher returns a fetcher for a site using the shared client and semaphore
func (o *Orchestrator) newFetcher(siteCfg config.SiteConfig, log *logrus.Entry) *fetch.Fetcher {
	return fetch.NewFetcher(o.httpClient, o.globalSemaphore, fetch.OptionsFromConfig(siteCfg, *o.appCfg), log)
}

// logSummary logs a summary of all site results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Crawl completed in %v", totalDuration)
	o.log.Info("Site Results:")

	successCount := 0
	failCount := 0
	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		o.log.Infof("  %s: %s in %v", r.SiteKey, status, r.Duration)
		for _, s := range r.Stages {
			o.log.Infof("    %s: crawled %d, succeeded %d, failed %d, found %d",
				s.Summary.Stage, s.Summary.Processed, s.Summary.Succeeded, s.Summary.Failed, s.Summary.Discovered)
		}
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed)", len(results), successCount, failCount)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
