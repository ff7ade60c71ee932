package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
)

// MemoryStore is the default CrawlStore, used when no state directory is configured
type MemoryStore struct {
	mu      sync.RWMutex
	pages   map[string]models.PageDBEntry
	records map[string]*models.Record
	log     *logrus.Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *logrus.Entry) *MemoryStore {
	return &MemoryStore{
		pages:   make(map[string]models.PageDBEntry),
		records: make(map[string]*models.Record),
		log:     logger,
	}
}

func (s *MemoryStore) MarkPageAdmitted(addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[addr]; ok {
		return false, nil
	}
	s.pages[addr] = models.PageDBEntry{Status: models.PageStatusPending, LastAttempt: time.Now()}
	return true, nil
}

func (s *MemoryStore) CheckPageStatus(addr string) (models.PageStatus, *models.PageDBEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pages[addr]
	if !ok {
		return models.PageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

func (s *MemoryStore) UpdatePageStatus(addr string, entry *models.PageDBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[addr] = *entry
	return nil
}

func (s *MemoryStore) PagesWithStatus(status models.PageStatus) ([]string, error) {
	s.mu.RLock()
	var out []string
	for addr, entry := range s.pages {
		if entry.Status == status {
			out = append(out, addr)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) PutRecord(rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.URL] = rec
	return nil
}

func (s *MemoryStore) GetRecord(url string) (*models.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[url]
	return rec, ok, nil
}

func (s *MemoryStore) Records() ([]*models.Record, error) {
	s.mu.RLock()
	out := make([]*models.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *MemoryStore) GetVisitedCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages), nil
}

func (s *MemoryStore) WriteVisitedLog(filePath string) error {
	s.mu.RLock()
	addrs := make([]string, 0, len(s.pages))
	for addr := range s.pages {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()
	sort.Strings(addrs)
	return writeLines(filePath, addrs, s.log)
}

// RunGC has nothing to collect; it returns immediately.
func (s *MemoryStore) RunGC(ctx context.Context, interval time.Duration) {}

func (s *MemoryStore) Close() error { return nil }
