package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/crawler"
	"github.com/Sriram-PR/codex-crawler/pkg/fetch"
	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/output"
	"github.com/Sriram-PR/codex-crawler/pkg/parse"
	"github.com/Sriram-PR/codex-crawler/pkg/process"
	"github.com/Sriram-PR/codex-crawler/pkg/queue"
	"github.com/Sriram-PR/codex-crawler/pkg/storage"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// Files written to a site's output directory
const (
	DiscoveredFile      = "discovered_urls.txt"
	AdmittedFile        = "admitted_urls.txt"
	DoneFile            = "done_urls.txt"
	RecordURLsFile      = "record_urls.txt"
	RecordsFileBase     = "records"
	LinksMetadataFile   = "links_metadata.yaml"
	RecordsMetadataFile = "records_metadata.yaml"
	SummaryFile         = "summary.md"
)

const gcInterval = 10 * time.Minute

// ErrNoRecordURLs is returned when the records stage has nothing to select from
var ErrNoRecordURLs = errors.New("no record URLs: configure records.urls, pass a URL list or run the links stage")

// StageResult is the outcome of one crawl stage of a site
type StageResult struct {
	Summary  *crawler.CrawlSummary
	Metadata models.CrawlMetadata
}

// pipeline runs the stages of one site
type pipeline struct {
	o        *Orchestrator
	siteKey  string
	siteCfg  config.SiteConfig
	log      *logrus.Entry
	out      *output.Manager
	fetcher  *fetch.Fetcher
	throttle *fetch.Throttle
}

func newPipeline(o *Orchestrator, siteKey string, siteCfg config.SiteConfig, log *logrus.Entry) (*pipeline, error) {
	out, err := output.NewManager(o.appCfg.OutputBaseDir, siteKey, log)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		o:        o,
		siteKey:  siteKey,
		siteCfg:  siteCfg,
		log:      log,
		out:      out,
		fetcher:  o.newFetcher(siteCfg, log),
		throttle: fetch.NewThrottle(config.GetEffectiveDelay(siteCfg, *o.appCfg)),
	}, nil
}

// run executes link discovery, record URL selection and extraction as configured.
// The markdown summary is written whatever the outcome.
func (p *pipeline) run(ctx context.Context) (stages []StageResult, recordURLs int, err error) {
	defer func() { p.writeSummary(stages) }()

	var discovered []string
	if p.o.opts.Links {
		st, disc, err := p.runLinks(ctx)
		if st != nil {
			stages = append(stages, *st)
		}
		if err != nil {
			return stages, 0, err
		}
		discovered = disc
	}

	if !p.o.opts.Records {
		return stages, 0, nil
	}
	if !p.siteCfg.Records.Enabled {
		p.log.Warn("Records stage is not enabled for this site, skipping")
		return stages, 0, nil
	}

	urls, err := p.selectRecordURLs(discovered)
	if err != nil {
		return stages, 0, err
	}
	st, err := p.runRecords(ctx, urls)
	if st != nil {
		stages = append(stages, *st)
	}
	return stages, len(urls), err
}

// runLinks crawls from the seeds and returns the sorted discovered set
func (p *pipeline) runLinks(ctx context.Context) (*StageResult, []string, error) {
	log := p.log.WithField("stage", crawler.StageLinks)
	store, stopStore, err := p.openStore(ctx, crawler.StageLinks, log)
	if err != nil {
		return nil, nil, err
	}
	defer stopStore()

	rule := p.siteCfg.Filter
	if rule.AllowedHosts == nil {
		rule.AllowedHosts = parse.Hosts(p.siteCfg.Seeds)
		log.Infof("No allowed_hosts configured, restricting to seed hosts %v", rule.AllowedHosts)
	}
	visitor := crawler.NewLinkVisitor(p.fetcher, p.throttle, rule.Filter, p.siteCfg.AdmitSubstrings)
	frontier := queue.NewFrontier(config.GetEffectiveDiscoveryCap(p.siteCfg, *p.o.appCfg), visitor.Admit, log)

	c, err := crawler.New(crawler.Config{
		SiteKey:          p.siteKey,
		Stage:            crawler.StageLinks,
		Seeds:            p.siteCfg.Seeds,
		Filter:           rule.Filter,
		Workers:          config.GetEffectiveWorkers(p.siteCfg, *p.o.appCfg),
		ShutdownGrace:    p.o.appCfg.ShutdownGrace,
		ProgressInterval: p.o.appCfg.ProgressInterval,
	}, frontier, visitor, store, log)
	if err != nil {
		return nil, nil, err
	}

	summary, runErr := c.Run(ctx)
	discovered := frontier.Discovered()

	var outErr error
	if _, err := p.out.WriteURLList(DiscoveredFile, discovered); err != nil {
		outErr = errors.Join(outErr, err)
	}
	if err := store.WriteVisitedLog(p.out.Path(AdmittedFile)); err != nil {
		outErr = errors.Join(outErr, err)
	} else {
		p.out.Track(AdmittedFile)
	}
	if done, err := doneSet(store, frontier.Seen()); err != nil {
		outErr = errors.Join(outErr, err)
	} else if _, err := p.out.WriteURLList(DoneFile, done); err != nil {
		outErr = errors.Join(outErr, err)
	}

	st, err := p.finishStage(summary, LinksMetadataFile, log)
	outErr = errors.Join(outErr, err)
	if runErr != nil {
		return st, discovered, runErr
	}
	return st, discovered, outErr
}

// selectRecordURLs picks the addresses for the records stage
func (p *pipeline) selectRecordURLs(discovered []string) ([]string, error) {
	rc := p.siteCfg.Records
	var urls []string
	switch {
	case p.o.opts.RecordURLs != nil:
		urls = p.o.opts.RecordURLs
		p.log.Infof("Using %d record URL(s) given on the command line", len(urls))
	case len(rc.URLs) > 0:
		urls = rc.URLs
		p.log.Infof("Using %d configured record URL(s)", len(urls))
	case discovered != nil:
		include, err := utils.CompileRegexPatterns(rc.IncludePatterns)
		if err != nil {
			return nil, err
		}
		exclude, err := utils.CompileRegexPatterns(rc.ExcludePatterns)
		if err != nil {
			return nil, err
		}
		urls = SelectRecordURLs(discovered, include, exclude)
		p.log.Infof("Selected %d of %d discovered address(es) for extraction", len(urls), len(discovered))
	default:
		return nil, ErrNoRecordURLs
	}

	if _, err := p.out.WriteURLList(RecordURLsFile, urls); err != nil {
		p.log.Errorf("Failed to save record URL list: %v", err)
	}
	return urls, nil
}

// runRecords extracts one record per address and exports them
func (p *pipeline) runRecords(ctx context.Context, urls []string) (*StageResult, error) {
	log := p.log.WithField("stage", crawler.StageRecords)
	store, stopStore, err := p.openStore(ctx, crawler.StageRecords, log)
	if err != nil {
		return nil, err
	}
	defer stopStore()

	rc := p.siteCfg.Records
	extractor := process.NewFieldExtractor(rc.TitleSelector, rc.DescriptionSelector, rc.DescriptionFormat == config.DescriptionFormatMarkdown)
	visitor := crawler.NewRecordVisitor(p.fetcher, p.throttle, extractor, store, crawler.RecordOptions{
		Locales:     rc.Locales,
		LocaleParam: rc.LocaleParam,
		Concurrency: rc.LocaleConcurrency,
		ReuseStored: p.o.appCfg.Resume,
	})
	frontier := queue.NewFrontier(config.GetEffectiveRecordCap(p.siteCfg, len(urls)), visitor.Admit, log)

	c, err := crawler.New(crawler.Config{
		SiteKey:          p.siteKey,
		Stage:            crawler.StageRecords,
		Seeds:            urls,
		Workers:          config.GetEffectiveRecordWorkers(p.siteCfg, *p.o.appCfg),
		ShutdownGrace:    p.o.appCfg.ShutdownGrace,
		ProgressInterval: p.o.appCfg.ProgressInterval,
	}, frontier, visitor, store, log)
	if err != nil {
		return nil, err
	}

	summary, runErr := c.Run(ctx)

	var outErr error
	records, err := store.Records()
	if err != nil {
		outErr = err
	} else {
		// A resumed store may hold records of addresses not selected this time.
		seen := make(map[string]struct{}, frontier.Admitted())
		for _, addr := range frontier.Seen() {
			seen[addr] = struct{}{}
		}
		records = slices.DeleteFunc(records, func(r *models.Record) bool {
			if _, ok := seen[r.URL]; !ok {
				return true
			}
			status, _, err := store.CheckPageStatus(r.URL)
			return err != nil || status != models.PageStatusSuccess
		})
		for _, format := range rc.Formats {
			if _, err := p.out.WriteRecords(RecordsFileBase+"."+format, records, rc.Locales); err != nil {
				outErr = errors.Join(outErr, err)
			}
		}
	}

	st, err := p.finishStage(summary, RecordsMetadataFile, log)
	outErr = errors.Join(outErr, err)
	if runErr != nil {
		return st, runErr
	}
	return st, outErr
}

// openStore opens the stage store and starts its GC loop. The returned func
// stops the loop and closes the store.
func (p *pipeline) openStore(ctx context.Context, stage string, log *logrus.Entry) (storage.CrawlStore, func(), error) {
	store, err := p.o.openStore(p.siteKey, stage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s store for '%s': %w", stage, p.siteKey, err)
	}
	gcCtx, stopGC := context.WithCancel(ctx)
	gcDone := make(chan struct{})
	go func() {
		defer close(gcDone)
		store.RunGC(gcCtx, gcInterval)
	}()
	return store, func() {
		stopGC()
		<-gcDone
		if count, err := store.GetVisitedCount(); err != nil {
			log.Warnf("Could not count %s store pages: %v", stage, err)
		} else {
			log.Infof("The %s store holds %d page(s)", stage, count)
		}
		if err := store.Close(); err != nil {
			log.Errorf("Error closing %s store: %v", stage, err)
		}
	}, nil
}

// doneSet returns the addresses of this run whose visit succeeded, sorted.
// A resumed store also holds outcomes of earlier runs, so only seen addresses count.
func doneSet(store storage.PageStore, seen []string) ([]string, error) {
	succeeded, err := store.PagesWithStatus(models.PageStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("listing visited pages: %w", err)
	}
	inRun := make(map[string]struct{}, len(seen))
	for _, addr := range seen {
		inRun[addr] = struct{}{}
	}
	return slices.DeleteFunc(succeeded, func(addr string) bool {
		_, ok := inRun[addr]
		return !ok
	}), nil
}

// finishStage writes the stage metadata, listing the files written since the previous stage
func (p *pipeline) finishStage(summary *crawler.CrawlSummary, metadataFile string, log *logrus.Entry) (*StageResult, error) {
	if summary == nil {
		return nil, nil
	}
	md := summary.Metadata(p.out.TakeOutputs())
	st := &StageResult{Summary: summary, Metadata: md}
	if _, err := p.out.WriteMetadata(metadataFile, md); err != nil {
		log.Errorf("Failed to write crawl metadata: %v", err)
		return st, err
	}
	return st, nil
}

func (p *pipeline) writeSummary(stages []StageResult) {
	if len(stages) == 0 {
		return
	}
	mds := make([]models.CrawlMetadata, len(stages))
	for i, s := range stages {
		mds[i] = s.Metadata
	}
	if _, err := p.out.WriteSummary(SummaryFile, mds); err != nil {
		p.log.Errorf("Failed to write crawl summary: %v", err)
	}
}

// SelectRecordURLs returns the sorted addresses matching at least one include
// pattern (any address when there are none) and no exclude pattern.
func SelectRecordURLs(addresses []string, include, exclude []*regexp.Regexp) []string {
	selected := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if len(include) > 0 && !utils.MatchesAny(include, addr) {
			continue
		}
		if utils.MatchesAny(exclude, addr) {
			continue
		}
		selected = append(selected, addr)
	}
	slices.Sort(selected)
	return slices.Compact(selected)
}
