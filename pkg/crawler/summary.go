package crawler

import (
	"time"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
)

// CrawlSummary reports the outcome of one Run
type CrawlSummary struct {
	RunID        string
	SiteKey      string
	Stage        string
	StartTime    time.Time
	EndTime      time.Time
	Seeds        []string // Seeds after filtering, in input order
	Discovered   int      // Distinct addresses offered for admission
	Admitted     int      // Discovery counter
	Processed    int      // Visits that finished, successfully or not
	Succeeded    int
	Failed       int
	StuckWorkers int // Workers still running when the shutdown grace expired
	Failures     []models.FailedVisit
}

// Duration returns the wall-clock time of the run
func (s *CrawlSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Metadata converts the summary into the exported metadata document
func (s *CrawlSummary) Metadata(outputs []models.OutputFile) models.CrawlMetadata {
	return models.CrawlMetadata{
		SiteKey:        s.SiteKey,
		RunID:          s.RunID,
		Stage:          s.Stage,
		CrawlStartTime: s.StartTime,
		CrawlEndTime:   s.EndTime,
		Seeds:          s.Seeds,
		Discovered:     s.Discovered,
		Admitted:       s.Admitted,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		StuckWorkers:   s.StuckWorkers,
		Outputs:        outputs,
		Failures:       s.Failures,
	}
}
