package watch

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

const stateFileName = "watch_state.yaml"

// SiteState contains the last run information for a site
type SiteState struct {
	LastRunTime    time.Time `yaml:"last_run_time"`
	LastRunSuccess bool      `yaml:"last_run_success"`
	Visited        int       `yaml:"visited"`
	Records        int       `yaml:"records"`
	ErrorMessage   string    `yaml:"error_message,omitempty"`
}

// State is the persisted state of the watch scheduler
type State struct {
	Sites     map[string]SiteState `yaml:"sites"`
	UpdatedAt time.Time            `yaml:"updated_at"`
}

// StateManager loads and saves the watch state file
type StateManager struct {
	stateDir  string
	statePath string
	state     State
	mu        sync.RWMutex
}

// NewStateManager creates a state manager for stateDir/watch_state.yaml
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     State{Sites: make(map[string]SiteState)},
	}
}

// Path returns the state file path
func (m *StateManager) Path() string {
	return m.statePath
}

// Load reads the state file. A missing file leaves the state empty.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if errors.Is(err, os.ErrNotExist) {
		m.state = State{Sites: make(map[string]SiteState)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read watch state: %w", utils.ErrFilesystem, err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: watch state %s: %w", utils.ErrParsing, m.statePath, err)
	}
	if st.Sites == nil {
		st.Sites = make(map[string]SiteState)
	}
	m.state = st
	return nil
}

// Save writes the state file, creating the state directory if needed
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}
	data, err := yaml.Marshal(m.state)
	if err != nil {
		return fmt.Errorf("marshal watch state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("%w: write watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// UpdateSiteState records a finished run of a site at the current time
func (m *StateManager) UpdateSiteState(siteKey string, state SiteState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.LastRunTime.IsZero() {
		state.LastRunTime = time.Now()
	}
	m.state.Sites[siteKey] = state
}

// ShouldRun reports whether interval has elapsed since the last run of a site
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return !ok || time.Since(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site is next due. Sites never run are due now.
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSiteStates returns a copy of every site state
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.state.Sites)
}
