package models

import (
	"slices"
	"time"
)

// PageDBEntry stores the outcome of visiting an address
type PageDBEntry struct {
	Status      PageStatus `json:"status"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	ProcessedAt time.Time  `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt time.Time  `json:"last_attempt"`
	FinalURL    string     `json:"final_url,omitempty"`    // Address after redirects, if different
	ContentHash string     `json:"content_hash,omitempty"` // SHA-256 of the fetched body
}

// LocalizedFields is the pair of values extracted from one locale variant of a page
type LocalizedFields struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// Record aggregates the extracted fields of every configured locale for one address
type Record struct {
	URL     string                     `json:"url" yaml:"url"`
	Locales []string                   `json:"locales" yaml:"locales"` // Column order for export
	Fields  map[string]LocalizedFields `json:"fields" yaml:"fields"`
}

// NewRecord creates an empty record for url with the given locale order
func NewRecord(url string, locales []string) *Record {
	return &Record{
		URL:     url,
		Locales: append([]string(nil), locales...),
		Fields:  make(map[string]LocalizedFields, len(locales)),
	}
}

// Title returns the title extracted for locale, or "" if absent
func (r *Record) Title(locale string) string {
	return r.Fields[locale].Title
}

// Description returns the description extracted for locale, or "" if absent
func (r *Record) Description(locale string) string {
	return r.Fields[locale].Description
}

// HasLocales reports whether the record was extracted for every locale given
func (r *Record) HasLocales(locales []string) bool {
	for _, l := range locales {
		if !slices.Contains(r.Locales, l) {
			return false
		}
	}
	return true
}

// CrawlMetadata describes one finished crawl stage of a site
type CrawlMetadata struct {
	SiteKey        string        `yaml:"site_key"`
	RunID          string        `yaml:"run_id"`
	Stage          string        `yaml:"stage"` // "links" or "records"
	CrawlStartTime time.Time     `yaml:"crawl_start_time"`
	CrawlEndTime   time.Time     `yaml:"crawl_end_time"`
	Seeds          []string      `yaml:"seeds"`
	Discovered     int           `yaml:"discovered"`
	Admitted       int           `yaml:"admitted"`
	Succeeded      int           `yaml:"succeeded"`
	Failed         int           `yaml:"failed"`
	StuckWorkers   int           `yaml:"stuck_workers,omitempty"`
	Outputs        []OutputFile  `yaml:"outputs,omitempty"`
	Failures       []FailedVisit `yaml:"failures,omitempty"`
}

// OutputFile names a file written by a result sink and its checksum
type OutputFile struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
}

// FailedVisit is an address that was admitted but not visited successfully
type FailedVisit struct {
	URL       string `yaml:"url"`
	ErrorType string `yaml:"error_type"`
}
