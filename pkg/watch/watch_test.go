package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/codex-crawler/pkg/crawler"
	"github.com/Sriram-PR/codex-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"d", 0, true},
		{"1dx", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatInterval(tt.input))
		})
	}
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, time.Minute, tickInterval(5*time.Minute))
	assert.Equal(t, 6*time.Minute, tickInterval(time.Hour))
	assert.Equal(t, 10*time.Minute, tickInterval(24*time.Hour))
}

func TestStateManager(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)
	require.NoError(t, sm.Load())

	assert.True(t, sm.ShouldRun("codex", time.Hour))
	sm.UpdateSiteState("codex", SiteState{LastRunSuccess: true, Visited: 120, Records: 100})
	assert.False(t, sm.ShouldRun("codex", time.Hour))
	assert.True(t, sm.ShouldRun("codex", 0))

	state, ok := sm.GetSiteState("codex")
	require.True(t, ok)
	assert.Equal(t, 100, state.Records)
	assert.False(t, state.LastRunTime.IsZero())

	require.NoError(t, sm.Save())
	assert.FileExists(t, filepath.Join(tmpDir, stateFileName))

	sm2 := NewStateManager(tmpDir)
	require.NoError(t, sm2.Load())
	state2, ok := sm2.GetSiteState("codex")
	require.True(t, ok)
	assert.Equal(t, 120, state2.Visited)
	assert.True(t, state.LastRunTime.Equal(state2.LastRunTime))
}

func TestStateManager_GetAllSiteStates(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	sm.UpdateSiteState("site1", SiteState{LastRunSuccess: true, Visited: 50})
	sm.UpdateSiteState("site2", SiteState{ErrorMessage: "some error"})

	states := sm.GetAllSiteStates()
	require.Len(t, states, 2)
	assert.Equal(t, 50, states["site1"].Visited)
	assert.False(t, states["site2"].LastRunSuccess)
	assert.Equal(t, "some error", states["site2"].ErrorMessage)

	delete(states, "site1")
	_, ok := sm.GetSiteState("site1")
	assert.True(t, ok, "returned map is a copy")
}

func TestStateManager_GetNextRunTime(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	assert.WithinDuration(t, time.Now(), sm.GetNextRunTime("new_site", time.Hour), time.Second)

	sm.UpdateSiteState("existing_site", SiteState{LastRunSuccess: true})
	state, _ := sm.GetSiteState("existing_site")
	assert.Equal(t, state.LastRunTime.Add(time.Hour), sm.GetNextRunTime("existing_site", time.Hour))
}

func TestStateManager_LoadCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)
	require.NoError(t, os.WriteFile(sm.Path(), []byte("sites: [not, a, map"), 0644))
	assert.ErrorIs(t, sm.Load(), utils.ErrParsing)
}

// fakeRunner records the sites it is asked to run and cancels ctx on its after-th call
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	cancel context.CancelFunc
	after  int
}

func (f *fakeRunner) run(ctx context.Context, siteKeys []string) []orchestrate.SiteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, siteKeys)

	var results []orchestrate.SiteResult
	for _, key := range siteKeys {
		r := orchestrate.SiteResult{
			SiteKey: key,
			Success: key != "broken",
			Stages: []orchestrate.StageResult{
				{Summary: &crawler.CrawlSummary{Stage: crawler.StageLinks, Processed: 4}},
				{Summary: &crawler.CrawlSummary{Stage: crawler.StageRecords, Processed: 10, Succeeded: 9}},
			},
		}
		if !r.Success {
			r.Error = errors.New("boom")
		}
		results = append(results, r)
	}
	if len(f.calls) >= f.after {
		f.cancel()
	}
	return results
}

func TestScheduler_RunsDueSitesAndPersistsState(t *testing.T) {
	stateDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{cancel: cancel, after: 1}
	s := NewScheduler([]string{"codex", "broken"}, time.Hour, stateDir, runner.run, testLogger())
	// The runner cancels ctx at the end of its run, so the outcome is not recorded.
	require.NoError(t, s.Run(ctx))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"codex", "broken"}, runner.calls[0])
	assert.NoFileExists(t, filepath.Join(stateDir, stateFileName))

	// Record a completed run directly.
	s.runDueSites(context.Background())
	require.Len(t, runner.calls, 2)
	assert.FileExists(t, filepath.Join(stateDir, stateFileName))

	statuses := s.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "codex", statuses[0].SiteKey)
	assert.False(t, statuses[0].NeverRun)
	assert.True(t, statuses[0].State.LastRunSuccess)
	assert.Equal(t, 14, statuses[0].State.Visited)
	assert.Equal(t, 9, statuses[0].State.Records)
	assert.Equal(t, "boom", statuses[1].State.ErrorMessage)

	// A new scheduler over the same state finds nothing due.
	ctx2, cancel2 := context.WithCancel(context.Background())
	runner2 := &fakeRunner{cancel: cancel2, after: 1}
	s2 := NewScheduler([]string{"codex", "broken"}, time.Hour, stateDir, runner2.run, testLogger())
	s2.tick = 10 * time.Millisecond
	time.AfterFunc(50*time.Millisecond, cancel2)
	require.NoError(t, s2.Run(ctx2))
	assert.Empty(t, runner2.calls)
}

func TestScheduler_NextRun(t *testing.T) {
	s := NewScheduler([]string{"a", "b"}, time.Hour, t.TempDir(), nil, testLogger())
	s.stateManager.UpdateSiteState("a", SiteState{LastRunSuccess: true})
	next := s.NextRun()
	assert.Equal(t, "b", next.SiteKey)
	assert.True(t, next.NeverRun)
}
