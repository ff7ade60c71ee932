package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
)

// PageStore tracks the outcome of every admitted address
type PageStore interface {
	// MarkPageAdmitted records addr as pending if it is not known yet.
	// Returns true if the address was newly added. An existing entry is never overwritten.
	MarkPageAdmitted(addr string) (bool, error)

	// CheckPageStatus returns the status of addr (PageStatusNotFound when unknown,
	// PageStatusDBError on lookup failure) and its entry if one was stored.
	CheckPageStatus(addr string) (models.PageStatus, *models.PageDBEntry, error)

	// UpdatePageStatus stores the outcome of a visit
	UpdatePageStatus(addr string, entry *models.PageDBEntry) error

	// PagesWithStatus returns every address with the given status, sorted
	PagesWithStatus(status models.PageStatus) ([]string, error)
}

// RecordStore keeps the structured records produced by the extraction crawl
type RecordStore interface {
	PutRecord(rec *models.Record) error
	GetRecord(url string) (*models.Record, bool, error)
	// Records returns all stored records sorted by URL
	Records() ([]*models.Record, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetVisitedCount returns the number of admitted addresses known to the store
	GetVisitedCount() (int, error)

	// WriteVisitedLog writes every admitted address, one per line, to filePath
	WriteVisitedLog(filePath string) error

	// RunGC runs periodic garbage collection until ctx is done. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	Close() error
}

// CrawlStore combines all store interfaces for the crawl engine
type CrawlStore interface {
	PageStore
	RecordStore
	StoreAdmin
}
