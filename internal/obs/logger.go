package obs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActionType labels an administrative action recorded in the state log.
type ActionType string

const (
	ActionStartServer   ActionType = "start_server"
	ActionStopServer    ActionType = "stop_server"
	ActionGenerateToken ActionType = "generate_token"
	ActionClearCache    ActionType = "clear_cache"
	ActionUpdateConfig  ActionType = "update_config"
	ActionReloadConfig  ActionType = "reload_config"
	ActionFetchModels   ActionType = "fetch_models"
)

// HistoryEntry is a single recorded administrative action.
type HistoryEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    ActionType  `json:"action"`
	Details   interface{} `json:"details"`
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
}

// ServerStatus is the last known server state, persisted so CLI commands
// can report on a running instance without talking to it.
type ServerStatus struct {
	Timestamp    time.Time `json:"timestamp"`
	Running      bool      `json:"running"`
	Port         int       `json:"port"`
	BackendURL   string    `json:"backend_url,omitempty"`
	Uptime       string    `json:"uptime"`
	RequestCount int64     `json:"request_count"`
}

// maxHistoryEntries bounds the on-disk history.
const maxHistoryEntries = 100

// StateLog persists admin action history and server status as JSON files
// under the application state directory.
type StateLog struct {
	historyFile    string
	statusFile     string
	historyEntries []HistoryEntry
	currentStatus  *ServerStatus
	mu             sync.RWMutex
}

// NewStateLog creates a state log rooted at dir, loading any existing
// history and status.
func NewStateLog(dir string) (*StateLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	sl := &StateLog{
		historyFile: filepath.Join(dir, "history.json"),
		statusFile:  filepath.Join(dir, "status.json"),
	}
	if err := sl.loadHistory(); err != nil {
		sl.historyEntries = nil
	}
	if err := sl.loadStatus(); err != nil {
		sl.currentStatus = nil
	}
	return sl, nil
}

// LogAction appends an action to the history, keeping the most recent
// entries only.
func (sl *StateLog) LogAction(action ActionType, details interface{}, success bool, message string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.historyEntries = append(sl.historyEntries, HistoryEntry{
		Timestamp: time.Now(),
		Action:    action,
		Details:   details,
		Success:   success,
		Message:   message,
	})
	if len(sl.historyEntries) > maxHistoryEntries {
		sl.historyEntries = sl.historyEntries[len(sl.historyEntries)-maxHistoryEntries:]
	}
	return sl.saveHistory()
}

// UpdateServerStatus persists the current server state.
func (sl *StateLog) UpdateServerStatus(status ServerStatus) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	status.Timestamp = time.Now()
	sl.currentStatus = &status
	return sl.saveStatus()
}

// History returns up to limit recent entries, newest last. limit <= 0
// returns everything.
func (sl *StateLog) History(limit int) []HistoryEntry {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if limit <= 0 || limit > len(sl.historyEntries) {
		limit = len(sl.historyEntries)
	}
	start := len(sl.historyEntries) - limit
	result := make([]HistoryEntry, limit)
	copy(result, sl.historyEntries[start:])
	return result
}

// Status returns the last persisted server status, or a zero "not running"
// status when none was recorded.
func (sl *StateLog) Status() ServerStatus {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if sl.currentStatus == nil {
		return ServerStatus{Timestamp: time.Now(), Running: false}
	}
	return *sl.currentStatus
}

// ClearHistory removes all history entries.
func (sl *StateLog) ClearHistory() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.historyEntries = nil
	return sl.saveHistory()
}

func (sl *StateLog) loadHistory() error {
	data, err := os.ReadFile(sl.historyFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &sl.historyEntries)
}

func (sl *StateLog) saveHistory() error {
	data, err := json.MarshalIndent(sl.historyEntries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sl.historyFile, data, 0644)
}

func (sl *StateLog) loadStatus() error {
	data, err := os.ReadFile(sl.statusFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &sl.currentStatus)
}

func (sl *StateLog) saveStatus() error {
	data, err := json.MarshalIndent(sl.currentStatus, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sl.statusFile, data, 0644)
}
