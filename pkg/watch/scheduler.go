package watch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/crawler"
	"github.com/Sriram-PR/codex-crawler/pkg/orchestrate"
)

// RunFunc runs the pipeline for the given sites
type RunFunc func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult

// Scheduler re-runs the pipeline for each site once its interval has elapsed
type Scheduler struct {
	siteKeys     []string
	interval     time.Duration
	tick         time.Duration
	run          RunFunc
	log          *logrus.Entry
	stateManager *StateManager
}

// NewScheduler creates a scheduler keeping its state under stateDir
func NewScheduler(siteKeys []string, interval time.Duration, stateDir string, run RunFunc, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		siteKeys:     siteKeys,
		interval:     interval,
		tick:         tickInterval(interval),
		run:          run,
		log:          log,
		stateManager: NewStateManager(stateDir),
	}
}

// Run runs due sites immediately, then checks again every tick until ctx is done.
// Sites run synchronously, so a site is never crawled twice at once.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d site(s) with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()
	s.runDueSites(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runDueSites(ctx)
		}
	}
}

// runDueSites runs all sites that are due and records their outcome
func (s *Scheduler) runDueSites(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	due := s.dueSites()
	if len(due) == 0 {
		s.logNextRun()
		return
	}

	s.log.Infof("Running crawl for %d due site(s): %v", len(due), due)
	results := s.run(ctx, due)
	if ctx.Err() != nil {
		// An interrupted run is retried at the next start.
		s.log.Warn("Watch run interrupted, state not updated")
		return
	}

	for _, r := range results {
		s.stateManager.UpdateSiteState(r.SiteKey, siteStateFromResult(r))
	}
	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
}

func siteStateFromResult(r orchestrate.SiteResult) SiteState {
	st := SiteState{LastRunSuccess: r.Success}
	if r.Error != nil {
		st.ErrorMessage = r.Error.Error()
	}
	for _, stage := range r.Stages {
		st.Visited += stage.Summary.Processed
		if stage.Summary.Stage == crawler.StageRecords {
			st.Records = stage.Summary.Succeeded
		}
	}
	return st
}

func (s *Scheduler) dueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// tickInterval checks every tenth of the interval, clamped to [1m, 10m]
func tickInterval(interval time.Duration) time.Duration {
	return min(max(interval/10, time.Minute), 10*time.Minute)
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d visited, %d records), next run %s",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.Visited,
			state.Records,
			s.stateManager.GetNextRunTime(siteKey, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	if len(s.siteKeys) == 0 {
		return
	}
	next := s.NextRun()
	until := max(time.Until(next.NextRunTime), 0)
	s.log.Infof("Next crawl: %s in %v (at %s)", next.SiteKey, until.Round(time.Second), next.NextRunTime.Format("15:04:05"))
}

// NextRun returns the status of the site due soonest
func (s *Scheduler) NextRun() SiteStatus {
	statuses := s.GetStatus()
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].NextRunTime.Before(statuses[j].NextRunTime)
	})
	if len(statuses) == 0 {
		return SiteStatus{}
	}
	return statuses[0]
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	SiteKey     string
	State       SiteState
	NextRunTime time.Time
	NeverRun    bool
}

// GetStatus returns the status of every watched site in configuration order
func (s *Scheduler) GetStatus() []SiteStatus {
	statuses := make([]SiteStatus, 0, len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		statuses = append(statuses, SiteStatus{
			SiteKey:     siteKey,
			State:       state,
			NextRunTime: s.stateManager.GetNextRunTime(siteKey, s.interval),
			NeverRun:    !exists,
		})
	}
	return statuses
}

// FormatInterval formats a duration using d, h, m and s units
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	days, hours, mins := int(d/(24*time.Hour)), int(d/time.Hour)%24, int(d/time.Minute)%60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if mins > 0 && days == 0 {
		fmt.Fprintf(&b, "%dm", mins)
	}
	return b.String()
}

// ParseInterval parses a Go duration, optionally prefixed with a day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	daysStr, rest, found := strings.Cut(s, "d")
	days, err := strconv.Atoi(daysStr)
	if !found || err != nil || days < 0 {
		return 0, fmt.Errorf("invalid interval format: %q (examples: 30m, 1h, 24h, 7d)", s)
	}
	d := time.Duration(days) * 24 * time.Hour
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %q: %w", s, err)
		}
		d += extra
	}
	return d, nil
}
