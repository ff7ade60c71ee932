package output

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func spellRecords() []*models.Record {
	locales := []string{"en", "de"}
	ice := models.NewRecord("https://example.test/spells/ice/", locales)
	ice.Fields["en"] = models.LocalizedFields{Title: "Ice Shard", Description: "Cold, sharp."}
	ice.Fields["de"] = models.LocalizedFields{Title: "Eissplitter", Description: "Kalt."}

	fire := models.NewRecord("https://example.test/spells/fire/", locales)
	fire.Fields["en"] = models.LocalizedFields{Title: "Fire Bolt", Description: "Hot \"bolt\"."}
	fire.Fields["de"] = models.LocalizedFields{Title: "Feuerblitz", Description: "Heiß."}

	untitled := models.NewRecord("https://example.test/spells/zzz/", locales)
	return []*models.Record{ice, untitled, fire}
}

func TestRecordColumns(t *testing.T) {
	assert.Equal(t, []string{"url", "name_en", "desc_en", "name_de", "desc_de"}, RecordColumns([]string{"en", "de"}))
	assert.Equal(t, []string{"url"}, RecordColumns(nil))
}

func TestSortRecords(t *testing.T) {
	records := spellRecords()
	SortRecords(records, "en")
	var urls []string
	for _, r := range records {
		urls = append(urls, r.URL)
	}
	assert.Equal(t, []string{
		"https://example.test/spells/zzz/", // empty title sorts first
		"https://example.test/spells/fire/",
		"https://example.test/spells/ice/",
	}, urls)

	SortRecords(records, "de")
	assert.Equal(t, "https://example.test/spells/ice/", records[1].URL)
}

func TestWriteRecords_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spells.csv")
	records := spellRecords()

	require.NoError(t, WriteRecords(path, records, []string{"en", "de"}))
	// Input order is left alone.
	assert.Equal(t, "https://example.test/spells/ice/", records[0].URL)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"url", "name_en", "desc_en", "name_de", "desc_de"}, rows[0])
	assert.Equal(t, []string{"https://example.test/spells/zzz/", "", "", "", ""}, rows[1])
	assert.Equal(t, []string{"https://example.test/spells/fire/", "Fire Bolt", "Hot \"bolt\".", "Feuerblitz", "Heiß."}, rows[2])
	assert.Equal(t, []string{"https://example.test/spells/ice/", "Ice Shard", "Cold, sharp.", "Eissplitter", "Kalt."}, rows[3])
}

func TestWriteRecords_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spells.xlsx")
	require.NoError(t, WriteRecords(path, spellRecords(), []string{"en"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"url", "name_en", "desc_en"}, rows[0])
	assert.Equal(t, []string{"https://example.test/spells/fire/", "Fire Bolt", "Hot \"bolt\"."}, rows[2])
}

func TestWriteRecords_UnknownFormat(t *testing.T) {
	err := WriteRecords(filepath.Join(t.TempDir(), "spells.json"), spellRecords(), []string{"en"})
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestURLListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	urls := []string{"https://example.test/a", "https://example.test/b?p=2"}
	require.NoError(t, WriteURLList(path, urls))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/a\nhttps://example.test/b?p=2\n", string(data))

	require.NoError(t, os.WriteFile(path, append(data, []byte("\n# comment\n  https://example.test/c  \r\n")...), 0644))
	got, err := ReadURLList(path)
	require.NoError(t, err)
	assert.Equal(t, append(urls, "https://example.test/c"), got)

	_, err = ReadURLList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, utils.ErrFilesystem)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func sampleMetadata() models.CrawlMetadata {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.CrawlMetadata{
		SiteKey:        "codex",
		RunID:          "0b7c",
		Stage:          "links",
		CrawlStartTime: start,
		CrawlEndTime:   start.Add(1500 * time.Millisecond),
		Seeds:          []string{"https://example.test/spells/?p=1"},
		Discovered:     12,
		Admitted:       4,
		Succeeded:      3,
		Failed:         1,
		Outputs:        []models.OutputFile{{Path: "discovered_urls.txt", SHA256: "abc123"}},
		Failures:       []models.FailedVisit{{URL: "https://example.test/spells/?p=9", ErrorType: "HTTP_404"}},
	}
}

func TestWriteMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links_metadata.yaml")
	md := sampleMetadata()
	require.NoError(t, WriteMetadata(path, md))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "site_key: codex")
	assert.Contains(t, string(data), "error_type: HTTP_404")

	var decoded models.CrawlMetadata
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, md.Seeds, decoded.Seeds)
	assert.Equal(t, md.Failures, decoded.Failures)
	assert.True(t, md.CrawlEndTime.Equal(decoded.CrawlEndTime))
}

func TestWriteSummaryMarkdown(t *testing.T) {
	links := sampleMetadata()
	records := sampleMetadata()
	records.Stage = "records"
	records.Failures = nil
	records.Outputs = []models.OutputFile{{Path: "records.csv", SHA256: "def456"}}

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryMarkdown(&buf, "codex", []models.CrawlMetadata{links, records}))
	out := buf.String()

	assert.Contains(t, out, "# Crawl Report: codex")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "## Outputs")
	assert.Contains(t, out, "`records.csv`")
	assert.Contains(t, out, "## Failures")
	assert.Contains(t, out, "https://example.test/spells/?p=9")
	assert.Contains(t, out, "HTTP_404")

	buf.Reset()
	clean := sampleMetadata()
	clean.Failures = nil
	clean.Outputs = nil
	require.NoError(t, WriteSummaryMarkdown(&buf, "codex", []models.CrawlMetadata{clean}))
	assert.Contains(t, buf.String(), "No failed visits.")
	assert.NotContains(t, buf.String(), "## Outputs")
}

func TestManager(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base, "play orna/codex", testLogger())
	require.NoError(t, err)
	assert.DirExists(t, m.Dir())
	assert.Equal(t, base, filepath.Dir(m.Dir()))

	_, err = m.WriteURLList("urls.txt", []string{"https://example.test/a"})
	require.NoError(t, err)
	_, err = m.WriteRecords("records.csv", spellRecords(), []string{"en"})
	require.NoError(t, err)

	outputs := m.TakeOutputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, "urls.txt", outputs[0].Path)
	assert.Len(t, outputs[0].SHA256, 64)
	assert.Equal(t, "records.csv", outputs[1].Path)
	assert.Empty(t, m.TakeOutputs())

	md := sampleMetadata()
	md.Outputs = outputs
	_, err = m.WriteMetadata("metadata.yaml", md)
	require.NoError(t, err)
	summaryPath, err := m.WriteSummary("summary.md", []models.CrawlMetadata{md})
	require.NoError(t, err)
	assert.FileExists(t, summaryPath)
	assert.Empty(t, m.TakeOutputs())
}
