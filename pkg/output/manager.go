package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// Manager owns the output directory of one site and keeps track of the files
// written to it, with their checksums, for the crawl metadata.
type Manager struct {
	log     *logrus.Entry
	siteKey string
	dir     string

	mu    sync.Mutex
	files []models.OutputFile // Files written since the last TakeOutputs
}

// NewManager creates <baseDir>/<siteKey> if needed
func NewManager(baseDir, siteKey string, log *logrus.Entry) (*Manager, error) {
	dir := filepath.Join(baseDir, utils.SanitizeFilename(siteKey))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating site output dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	log.Infof("Site output directory: %s", dir)
	return &Manager{log: log, siteKey: siteKey, dir: dir}, nil
}

// Dir returns the site output directory
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns name inside the site output directory
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name)
}

// WriteURLList writes urls to name and tracks the file
func (m *Manager) WriteURLList(name string, urls []string) (string, error) {
	path := m.Path(name)
	if err := WriteURLList(path, urls); err != nil {
		return "", err
	}
	m.Track(name)
	m.log.Infof("Wrote %d URL(s) to %s", len(urls), path)
	return path, nil
}

// WriteRecords writes records to name, format chosen by extension, and tracks the file
func (m *Manager) WriteRecords(name string, records []*models.Record, locales []string) (string, error) {
	path := m.Path(name)
	if err := WriteRecords(path, records, locales); err != nil {
		return "", err
	}
	m.Track(name)
	m.log.Infof("Wrote %d record(s) to %s", len(records), path)
	return path, nil
}

// WriteMetadata writes the YAML metadata of one stage. The metadata file itself is not tracked.
func (m *Manager) WriteMetadata(name string, metadata models.CrawlMetadata) (string, error) {
	path := m.Path(name)
	if err := WriteMetadata(path, metadata); err != nil {
		return "", err
	}
	m.log.Infof("Wrote crawl metadata to %s", path)
	return path, nil
}

// WriteSummary renders the markdown report for the given stages
func (m *Manager) WriteSummary(name string, stages []models.CrawlMetadata) (string, error) {
	var buf bytes.Buffer
	if err := WriteSummaryMarkdown(&buf, m.siteKey, stages); err != nil {
		return "", fmt.Errorf("rendering summary for site '%s': %w", m.siteKey, err)
	}
	path := m.Path(name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("%w: writing summary '%s': %w", utils.ErrFilesystem, path, err)
	}
	m.log.Infof("Wrote crawl summary to %s", path)
	return path, nil
}

// TakeOutputs returns the files tracked since the previous call and resets the list
func (m *Manager) TakeOutputs() []models.OutputFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.files
	m.files = nil
	return out
}

// Track records a file written to the site directory by another component
func (m *Manager) Track(name string) {
	path := m.Path(name)
	sum, err := utils.FileSHA256(path)
	if err != nil {
		m.log.Warnf("Could not checksum %s: %v", path, err)
	}
	m.mu.Lock()
	m.files = append(m.files, models.OutputFile{Path: name, SHA256: sum})
	m.mu.Unlock()
}
