package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/parse"
	"github.com/Sriram-PR/codex-crawler/pkg/queue"
	"github.com/Sriram-PR/codex-crawler/pkg/storage"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// Crawl stages
const (
	StageLinks   = "links"
	StageRecords = "records"
)

// Config holds the settings of one crawl run
type Config struct {
	SiteKey          string
	Stage            string
	Seeds            []string
	Filter           parse.FilterFunc // Applied to seeds as Filter(seed, seed); nil admits seeds as given
	Workers          int
	ShutdownGrace    time.Duration // How long to wait for workers after the frontier closes
	ProgressInterval time.Duration // <= 0 disables progress reports
}

// Crawler runs a fixed pool of workers over a frontier until no work remains
type Crawler struct {
	cfg      Config
	frontier *queue.Frontier
	visitor  Visitor
	store    storage.PageStore
	log      *logrus.Entry

	processedCounter atomic.Int64
	succeededCounter atomic.Int64
	failedCounter    atomic.Int64

	failuresMu sync.Mutex
	failures   []models.FailedVisit
}

// New creates a Crawler over an existing frontier. The frontier should have been
// created with the visitor's Admit as its predicate.
func New(cfg Config, frontier *queue.Frontier, visitor Visitor, store storage.PageStore, log *logrus.Entry) (*Crawler, error) {
	if cfg.Workers < 1 {
		return nil, utils.WrapErrorf(utils.ErrWorkerPool, "worker count must be at least 1, got %d", cfg.Workers)
	}
	if visitor == nil {
		return nil, utils.WrapErrorf(utils.ErrWorkerPool, "no visit action configured")
	}
	if frontier == nil {
		return nil, utils.WrapErrorf(utils.ErrWorkerPool, "no frontier configured")
	}
	if store == nil {
		return nil, utils.WrapErrorf(utils.ErrWorkerPool, "no page store configured")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Crawler{
		cfg:      cfg,
		frontier: frontier,
		visitor:  visitor,
		store:    store,
		log:      log.WithFields(logrus.Fields{"site_key": cfg.SiteKey, "stage": cfg.Stage}),
	}, nil
}

// Frontier returns the crawl state owned by this crawler
func (c *Crawler) Frontier() *queue.Frontier {
	return c.frontier
}

// Run admits the seeds, starts the workers and blocks until the frontier is
// empty with nothing in flight, or ctx is done. The summary is returned in both
// cases; the error is ctx's error if the crawl was cancelled.
func (c *Crawler) Run(ctx context.Context) (*CrawlSummary, error) {
	summary := &CrawlSummary{
		RunID:     uuid.NewString(),
		SiteKey:   c.cfg.SiteKey,
		Stage:     c.cfg.Stage,
		StartTime: time.Now(),
	}
	runLog := c.log.WithField("run_id", summary.RunID)
	runLog.Infof("Crawl starting with %d worker(s)...", c.cfg.Workers)

	// --- Seed the frontier ---
	summary.Seeds = c.prepareSeeds(runLog)
	seeded := c.frontier.Admit(summary.Seeds)
	c.markAdmitted(seeded, runLog)
	if len(seeded) == 0 {
		runLog.Warn("No seeds admitted, crawl will terminate immediately")
	} else {
		runLog.Infof("Seeded frontier with %d address(es)", len(seeded))
	}

	// --- Start workers ---
	var wg sync.WaitGroup
	var running atomic.Int32
	for i := 1; i <= c.cfg.Workers; i++ {
		wg.Add(1)
		running.Add(1)
		go func(workerLog *logrus.Entry) {
			defer wg.Done()
			defer running.Add(-1)
			c.worker(ctx, workerLog)
		}(runLog.WithField("worker_id", i))
	}

	progDone := make(chan struct{})
	go c.reportProgress(ctx, progDone, runLog)

	// --- Wait for completion ---
	if err := c.frontier.Join(ctx); err != nil {
		runLog.Warnf("Crawl context cancelled (%v), initiating shutdown", err)
	} else {
		runLog.Debug("Frontier drained with nothing in flight")
	}
	c.frontier.Close()
	close(progDone)

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()
	grace := time.NewTimer(c.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-workersDone:
	case <-grace.C:
		summary.StuckWorkers = int(running.Load())
		err := fmt.Errorf("%w: %d worker(s) still running after %v", utils.ErrShutdownTimeout, summary.StuckWorkers, c.cfg.ShutdownGrace)
		runLog.WithField("category", utils.CategorizeError(err)).Error(err)
	}

	// --- Summary ---
	summary.EndTime = time.Now()
	summary.Discovered = c.frontier.DiscoveredCount()
	summary.Admitted = c.frontier.Admitted()
	summary.Processed = int(c.processedCounter.Load())
	summary.Succeeded = int(c.succeededCounter.Load())
	summary.Failed = int(c.failedCounter.Load())
	c.failuresMu.Lock()
	summary.Failures = append([]models.FailedVisit(nil), c.failures...)
	c.failuresMu.Unlock()
	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].URL < summary.Failures[j].URL })

	runLog.Info("========================================================================")
	runLog.Info("CRAWL FINISHED")
	runLog.Infof("Duration:   %v", summary.Duration())
	runLog.Infof("Crawled:    %d addresses (%d succeeded, %d failed)", summary.Processed, summary.Succeeded, summary.Failed)
	runLog.Infof("Found:      %d addresses (%d admitted)", summary.Discovered, summary.Admitted)
	runLog.Info("========================================================================")

	return summary, ctx.Err()
}

// prepareSeeds runs every seed through the filter, keeping input order
func (c *Crawler) prepareSeeds(log *logrus.Entry) []string {
	seeds := make([]string, 0, len(c.cfg.Seeds))
	for i, seed := range c.cfg.Seeds {
		addr := seed
		if c.cfg.Filter != nil {
			resolved, ok := c.cfg.Filter(seed, seed)
			if !ok {
				log.WithFields(logrus.Fields{"index": i, "url": seed}).Warn("Seed rejected by filter. Skipping.")
				continue
			}
			addr = resolved
		}
		seeds = append(seeds, addr)
	}
	return seeds
}

// markAdmitted records newly admitted addresses as pending in the page store
func (c *Crawler) markAdmitted(addresses []string, log *logrus.Entry) {
	for _, addr := range addresses {
		if _, err := c.store.MarkPageAdmitted(addr); err != nil {
			log.WithField("admitted_url", addr).Error(fmt.Errorf("%w: marking address pending: %w", utils.ErrDatabase, err))
		}
	}
}

// worker pulls addresses until the frontier is closed or ctx is done
func (c *Crawler) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		addr, ok := c.frontier.Pop(ctx)
		if !ok {
			return
		}
		c.processTask(ctx, addr, workerLog)
	}
}

// processTask visits one address. Discoveries are admitted before the address
// is acknowledged, so the frontier never looks idle between the two.
func (c *Crawler) processTask(ctx context.Context, addr string, workerLog *logrus.Entry) {
	taskLog := workerLog.WithField("url", addr)
	startTime := time.Now()
	var result *VisitResult
	var taskErr error

	// --- Acknowledge (runs last) ---
	defer c.frontier.TaskDone()
	defer func() {
		// --- Panic Recovery ---
		if r := recover(); r != nil {
			result = nil
			taskErr = fmt.Errorf("%w: %v", utils.ErrVisitPanic, r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in visit")
		}

		// --- Record Outcome ---
		c.recordOutcome(ctx, addr, result, taskErr, time.Since(startTime), taskLog)

		// --- Admit Discoveries (before the acknowledgment) ---
		if taskErr == nil && result != nil && len(result.Addresses) > 0 {
			admitted := c.frontier.Admit(result.Addresses)
			c.markAdmitted(admitted, taskLog)
			if len(admitted) > 0 {
				taskLog.Debugf("Admitted %d new address(es)", len(admitted))
			}
		}
	}()

	// --- Visit ---
	result, taskErr = c.visitor.Visit(ctx, addr, taskLog)
}

// recordOutcome updates counters and the page store after a visit
func (c *Crawler) recordOutcome(ctx context.Context, addr string, result *VisitResult, taskErr error, duration time.Duration, taskLog *logrus.Entry) {
	logFields := logrus.Fields{"duration": duration.String()}

	if taskErr != nil && ctx.Err() != nil && (errors.Is(taskErr, context.Canceled) || errors.Is(taskErr, context.DeadlineExceeded)) {
		// Left pending so a resumed run can visit it again.
		taskLog.WithFields(logFields).Info("Visit interrupted by shutdown")
		return
	}

	c.processedCounter.Add(1)
	now := time.Now()
	entry := &models.PageDBEntry{LastAttempt: now}

	if taskErr != nil {
		category := utils.CategorizeError(taskErr)
		logFields["category"] = category
		taskLog.WithFields(logFields).Warnf("Task failed: %v", taskErr)

		c.failedCounter.Add(1)
		c.failuresMu.Lock()
		c.failures = append(c.failures, models.FailedVisit{URL: addr, ErrorType: category})
		c.failuresMu.Unlock()

		entry.Status = models.PageStatusFailure
		entry.ErrorType = category
	} else {
		c.succeededCounter.Add(1)
		entry.Status = models.PageStatusSuccess
		entry.ProcessedAt = now
		if result != nil {
			if result.FinalURL != addr {
				entry.FinalURL = result.FinalURL
			}
			entry.ContentHash = result.ContentHash
			logFields["found"] = len(result.Addresses)
		}
		taskLog.WithFields(logFields).Info("Task completed successfully")
	}

	if err := c.store.UpdatePageStatus(addr, entry); err != nil {
		taskLog.Errorf("Failed to update final DB status to '%s': %v", entry.Status, err)
	}
}

// reportProgress logs crawl progress periodically until done is closed
func (c *Crawler) reportProgress(ctx context.Context, done <-chan struct{}, log *logrus.Entry) {
	if c.cfg.ProgressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.WithFields(logrus.Fields{
				"queue_len":  c.frontier.Len(),
				"in_flight":  c.frontier.InFlight(),
				"admitted":   c.frontier.Admitted(),
				"discovered": c.frontier.DiscoveredCount(),
				"processed":  c.processedCounter.Load(),
				"failed":     c.failedCounter.Load(),
			}).Info("Crawl Progress")
		}
	}
}
