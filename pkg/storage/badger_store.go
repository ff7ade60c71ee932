package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/log"
	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

const (
	pageKeyPrefix   = "page:"
	recordKeyPrefix = "record:"
	stateDBSuffix   = "_state_db"
)

// BadgerStore implements CrawlStore on BadgerDB so crawl state survives the process
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or recreates, unless resume is set) the state database
// for name under stateDir.
func NewBadgerStore(stateDir, name string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(name)+stateDBSuffix)
	if !resume {
		if _, err := os.Stat(dbPath); err == nil {
			logger.Warnf("Resume disabled, removing existing state directory: %s", dbPath)
		}
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Opening crawl state database at: %s (Resume: %v)", dbPath, resume)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		if count, err := store.countKeys(pageKeyPrefix); err != nil {
			logger.Warnf("Failed to count existing page keys on resume: %v", err)
		} else {
			logger.Infof("Loaded existing page count on resume: %d", count)
		}
	}
	return store, nil
}

func (s *BadgerStore) countKeys(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts between workers.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func (s *BadgerStore) MarkPageAdmitted(addr string) (bool, error) {
	key := []byte(pageKeyPrefix + addr)
	value, err := json.Marshal(models.PageDBEntry{Status: models.PageStatusPending, LastAttempt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("%w: marshal pending entry: %w", utils.ErrParsing, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false // the closure reruns on conflict
		_, errGet := txn.Get(key)
		if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet // nil when the key exists
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, value)); errSet != nil {
			return errSet
		}
		added = true
		return nil
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in MarkPageAdmitted: %v", err)
		return false, fmt.Errorf("%w: marking page key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return added, nil
}

func (s *BadgerStore) CheckPageStatus(addr string) (models.PageStatus, *models.PageDBEntry, error) {
	status := models.PageStatusNotFound
	var entry *models.PageDBEntry
	key := []byte(pageKeyPrefix + addr)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting page key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.PageDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal PageDBEntry for key '%s': %v. Treating as 'pending'.", string(key), errJSON)
				status = models.PageStatusPending
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB view error in CheckPageStatus for key '%s': %v", string(key), errView)
		return models.PageStatusDBError, nil, errView
	}
	return status, entry, nil
}

func (s *BadgerStore) UpdatePageStatus(addr string, entry *models.PageDBEntry) error {
	key := []byte(pageKeyPrefix + addr)
	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal PageDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in UpdatePageStatus: %v", err)
		return fmt.Errorf("%w: failed setting page status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	s.log.Debugf("Updated page status for key '%s' to '%s'", string(key), entry.Status)
	return nil
}

// scanPrefix calls fn with the stripped key and a copy of the value for every key under prefix.
func (s *BadgerStore) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(bytes.TrimPrefix(item.KeyCopy(nil), p))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("%w: reading value for '%s': %w", utils.ErrDatabase, key, err)
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) PagesWithStatus(status models.PageStatus) ([]string, error) {
	var out []string
	err := s.scanPrefix(pageKeyPrefix, func(addr string, val []byte) error {
		var entry models.PageDBEntry
		if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
			s.log.Warnf("Skipping unreadable page entry '%s': %v", addr, errJSON)
			return nil
		}
		if entry.Status == status {
			out = append(out, addr)
		}
		return nil
	})
	return out, err // Badger iterates in key order, so out is sorted
}

func (s *BadgerStore) PutRecord(rec *models.Record) error {
	key := []byte(recordKeyPrefix + rec.URL)
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal record '%s': %w", utils.ErrParsing, rec.URL, err)
	}
	if err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val))
	}); err != nil {
		return fmt.Errorf("%w: failed storing record '%s': %w", utils.ErrDatabase, rec.URL, err)
	}
	return nil
}

func (s *BadgerStore) GetRecord(url string) (*models.Record, bool, error) {
	var rec *models.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(recordKeyPrefix + url))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting record '%s': %w", utils.ErrDatabase, url, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.Record
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("%w: decoding record '%s': %w", utils.ErrParsing, url, err)
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

func (s *BadgerStore) Records() ([]*models.Record, error) {
	var out []*models.Record
	err := s.scanPrefix(recordKeyPrefix, func(url string, val []byte) error {
		var rec models.Record
		if err := json.Unmarshal(val, &rec); err != nil {
			s.log.Warnf("Skipping unreadable record '%s': %v", url, err)
			return nil
		}
		out = append(out, &rec)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, err
}

// GetVisitedCount counts the page keys. It scans keys only, values are not read.
func (s *BadgerStore) GetVisitedCount() (int, error) {
	count, err := s.countKeys(pageKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: counting page keys: %w", utils.ErrDatabase, err)
	}
	return count, nil
}

func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	var addrs []string
	if err := s.scanPrefix(pageKeyPrefix, func(addr string, _ []byte) error {
		addrs = append(addrs, addr)
		return nil
	}); err != nil {
		return err
	}
	return writeLines(filePath, addrs, s.log)
}

// RunGC runs value log garbage collection every interval until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing state DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	s.log.Info("State DB closed.")
	return nil
}
