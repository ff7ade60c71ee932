package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/codex-crawler/pkg/fetch"
	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/parse"
	"github.com/Sriram-PR/codex-crawler/pkg/process"
	"github.com/Sriram-PR/codex-crawler/pkg/storage"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// VisitResult is what a visit hands back to the worker pool
type VisitResult struct {
	Addresses   []string // Filtered addresses found on the page, offered for admission
	FinalURL    string   // Address after redirects, if known
	ContentHash string   // SHA-256 of the fetched body, if known
}

// Visitor is the per-address action run by the worker pool.
// Admit is the visit-specific admission predicate used by the frontier.
type Visitor interface {
	Visit(ctx context.Context, address string, log *logrus.Entry) (*VisitResult, error)
	Admit(address string) bool
}

// PageFetcher retrieves a page. *fetch.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, address string) (*fetch.Page, error)
}

// LinkVisitor fetches a page and returns the filtered addresses of its anchors
type LinkVisitor struct {
	fetcher         PageFetcher
	throttle        *fetch.Throttle
	filter          parse.FilterFunc
	admitSubstrings []string
}

// NewLinkVisitor creates a LinkVisitor. A nil filter only resolves and defragments.
// When admitSubstrings is non-empty, only addresses containing one of them are admitted.
func NewLinkVisitor(fetcher PageFetcher, throttle *fetch.Throttle, filter parse.FilterFunc, admitSubstrings []string) *LinkVisitor {
	if filter == nil {
		filter = parse.FilterRule{}.Filter
	}
	return &LinkVisitor{
		fetcher:         fetcher,
		throttle:        throttle,
		filter:          filter,
		admitSubstrings: admitSubstrings,
	}
}

// Admit implements Visitor
func (v *LinkVisitor) Admit(address string) bool {
	if len(v.admitSubstrings) == 0 {
		return true
	}
	for _, s := range v.admitSubstrings {
		if strings.Contains(address, s) {
			return true
		}
	}
	return false
}

// Visit implements Visitor. Relative links resolve against the final URL.
func (v *LinkVisitor) Visit(ctx context.Context, address string, log *logrus.Entry) (*VisitResult, error) {
	if err := v.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	page, err := v.fetcher.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	base := page.FinalURL
	if base == "" {
		base = address
	}

	hrefs := process.ExtractLinks(page.Body)
	found := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if addr, ok := v.filter(base, href); ok {
			found = append(found, addr)
		}
	}
	log.WithFields(logrus.Fields{"links_total": len(hrefs), "links_kept": len(found)}).Debug("Extracted links")

	return &VisitResult{
		Addresses:   found,
		FinalURL:    page.FinalURL,
		ContentHash: utils.ContentHash(page.Body),
	}, nil
}

// RecordOptions configures a RecordVisitor
type RecordOptions struct {
	Locales     []string
	LocaleParam string // Query parameter selecting the locale, e.g. "lang"
	Concurrency int    // Locale fetches in flight per visit; < 1 means 1
	ReuseStored bool   // Skip addresses that already have a stored record
}

// RecordVisitor fetches every locale variant of a page and stores one Record
// aggregating the extracted fields. It discovers no addresses.
type RecordVisitor struct {
	fetcher   PageFetcher
	throttle  *fetch.Throttle
	extractor *process.FieldExtractor
	store     storage.RecordStore
	opts      RecordOptions
}

// NewRecordVisitor creates a RecordVisitor
func NewRecordVisitor(fetcher PageFetcher, throttle *fetch.Throttle, extractor *process.FieldExtractor, store storage.RecordStore, opts RecordOptions) *RecordVisitor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	opts.Locales = append([]string(nil), opts.Locales...)
	return &RecordVisitor{
		fetcher:   fetcher,
		throttle:  throttle,
		extractor: extractor,
		store:     store,
		opts:      opts,
	}
}

// Admit implements Visitor; record URLs are chosen before the crawl starts.
func (v *RecordVisitor) Admit(string) bool { return true }

// Visit implements Visitor. A failure on any locale abandons the record.
func (v *RecordVisitor) Visit(ctx context.Context, address string, log *logrus.Entry) (*VisitResult, error) {
	if v.opts.ReuseStored {
		stored, found, err := v.store.GetRecord(address)
		switch {
		case err != nil:
			log.Warnf("Could not check for a stored record, fetching again: %v", err)
		case found && stored.HasLocales(v.opts.Locales):
			log.Debug("Record already stored, skipping fetch")
			return &VisitResult{}, nil
		case found:
			log.WithField("stored_locales", stored.Locales).Debug("Stored record lacks configured locales, fetching again")
		}
	}

	// One pause per record, not per locale fetch.
	if err := v.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	fields := make([]models.LocalizedFields, len(v.opts.Locales))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i, locale := range v.opts.Locales {
		g.Go(func() error {
			target, err := LocaleURL(address, v.opts.LocaleParam, locale)
			if err != nil {
				return err
			}
			page, err := v.fetcher.Fetch(gctx, target)
			if err != nil {
				return fmt.Errorf("locale %s: %w", locale, err)
			}
			title, desc, err := v.extractor.Extract(page.Body)
			if err != nil {
				return fmt.Errorf("locale %s: %w", locale, err)
			}
			if title == "" {
				log.WithField("locale", locale).Debug("No title found")
			}
			fields[i] = models.LocalizedFields{Title: title, Description: desc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rec := models.NewRecord(address, v.opts.Locales)
	for i, locale := range v.opts.Locales {
		rec.Fields[locale] = fields[i]
	}
	if err := v.store.PutRecord(rec); err != nil {
		return nil, fmt.Errorf("%w: storing record: %w", utils.ErrDatabase, err)
	}
	return &VisitResult{}, nil
}

// LocaleURL sets the locale query parameter on address, keeping any other parameters.
func LocaleURL(address, param, locale string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, address, err)
	}
	q := u.Query()
	q.Set(param, locale)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
