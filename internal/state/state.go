package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a recorded run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusStale    Status = "stale"
)

// CleanupMode controls how stale runs are handled.
type CleanupMode string

const (
	CleanupMark   CleanupMode = "mark"
	CleanupRemove CleanupMode = "remove"
)

// maxFinishedRuns bounds how many finished runs the ledger keeps.
const maxFinishedRuns = 100

var (
	ErrLockTimeout = errors.New("state lock timeout")
	ErrRunActive   = errors.New("another run is active for this workbook")
	ErrRunNotFound = errors.New("run not found")
)

// Run is one recorded batch pass over a workbook.
type Run struct {
	ID         string     `json:"id"`
	Workbook   string     `json:"workbook"`
	Status     Status     `json:"status"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Failures   int        `json:"failures"`
	Error      string     `json:"error,omitempty"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	Status    Status
	Processed int
	Failures  int
	Err       error
}

type stateFile struct {
	Runs map[string]Run `json:"runs"`
}

// InitState initializes the state file and directory.
func InitState() error {
	return withLock(func() error {
		return initStateUnlocked()
	})
}

// StartRun records a running run for workbook. It fails with ErrRunActive when
// a live process already holds a run for the same workbook; runs whose
// process is gone are marked stale first.
func StartRun(workbook string) (Run, error) {
	workbook = normalizeWorkbook(workbook)
	if workbook == "" {
		return Run{}, errors.New("workbook path is required")
	}

	var run Run
	err := withLock(func() error {
		state, err := loadUnlocked()
		if err != nil {
			return err
		}

		for id, existing := range state.Runs {
			if existing.Status != StatusRunning || existing.Workbook != workbook {
				continue
			}
			if existing.PID > 0 && processAlive(existing.PID) {
				return fmt.Errorf("%w: run %s (pid %d)", ErrRunActive, existing.ID, existing.PID)
			}
			existing.Status = StatusStale
			state.Runs[id] = existing
		}

		run = Run{
			ID:        uuid.NewString(),
			Workbook:  workbook,
			Status:    StatusRunning,
			PID:       os.Getpid(),
			StartedAt: time.Now().UTC(),
		}
		state.Runs[run.ID] = run
		return writeStateFile(state)
	})

	return run, err
}

// FinishRun stores the outcome of a run and prunes old finished runs.
func FinishRun(id string, outcome Outcome) (Run, error) {
	if id == "" {
		return Run{}, errors.New("run id is required")
	}
	if outcome.Status == "" {
		outcome.Status = StatusComplete
		if outcome.Err != nil {
			outcome.Status = StatusFailed
		}
	}

	var run Run
	err := withLock(func() error {
		state, err := loadUnlocked()
		if err != nil {
			return err
		}

		existing, ok := state.Runs[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		finished := time.Now().UTC()
		existing.Status = outcome.Status
		existing.FinishedAt = &finished
		existing.Processed = outcome.Processed
		existing.Failures = outcome.Failures
		if outcome.Err != nil {
			existing.Error = outcome.Err.Error()
		}
		state.Runs[id] = existing
		run = existing

		pruneFinished(state.Runs, maxFinishedRuns)
		return writeStateFile(state)
	})

	return run, err
}

// GetRun returns a run by id.
func GetRun(id string) (Run, bool, error) {
	if id == "" {
		return Run{}, false, errors.New("run id is required")
	}

	var run Run
	var found bool
	err := withLock(func() error {
		state, err := loadUnlocked()
		if err != nil {
			return err
		}
		run, found = state.Runs[id]
		return nil
	})

	return run, found, err
}

// ListRuns returns runs newest first. A non-empty workbook filters by path.
func ListRuns(workbook string) ([]Run, error) {
	filter := ""
	if strings.TrimSpace(workbook) != "" {
		filter = normalizeWorkbook(workbook)
	}

	var runs []Run
	err := withLock(func() error {
		state, err := loadUnlocked()
		if err != nil {
			return err
		}

		runs = make([]Run, 0, len(state.Runs))
		for _, run := range state.Runs {
			if filter != "" && run.Workbook != filter {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, err
}

// CleanupStale marks or removes running entries whose process is gone.
func CleanupStale(mode CleanupMode) ([]string, error) {
	if mode == "" {
		mode = CleanupMark
	}
	if mode != CleanupMark && mode != CleanupRemove {
		return nil, fmt.Errorf("invalid cleanup mode %q", mode)
	}

	cleaned := []string{}
	err := withLock(func() error {
		state, err := loadUnlocked()
		if err != nil {
			return err
		}

		for id, run := range state.Runs {
			if run.Status != StatusRunning || run.PID <= 0 || processAlive(run.PID) {
				continue
			}

			cleaned = append(cleaned, id)
			if mode == CleanupRemove {
				delete(state.Runs, id)
				continue
			}
			run.Status = StatusStale
			state.Runs[id] = run
		}

		if len(cleaned) == 0 {
			return nil
		}
		return writeStateFile(state)
	})

	sort.Strings(cleaned)
	return cleaned, err
}

func pruneFinished(runs map[string]Run, keep int) {
	finished := make([]Run, 0, len(runs))
	for _, run := range runs {
		if run.Status != StatusRunning {
			finished = append(finished, run)
		}
	}
	if len(finished) <= keep {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for _, run := range finished[:len(finished)-keep] {
		delete(runs, run.ID)
	}
}

func normalizeWorkbook(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func loadUnlocked() (stateFile, error) {
	if err := initStateUnlocked(); err != nil {
		return stateFile{}, err
	}
	return readStateUnlocked()
}

func initStateUnlocked() error {
	dir := stateDir()
	if dir == "" {
		return errors.New("state directory unavailable")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := stateFilePath()
	if path == "" {
		return errors.New("state file path unavailable")
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return writeStateFile(stateFile{Runs: map[string]Run{}})
		}
		return fmt.Errorf("stat state file: %w", err)
	}

	if _, err := readStateUnlocked(); err != nil {
		return writeStateFile(stateFile{Runs: map[string]Run{}})
	}

	return nil
}

func readStateUnlocked() (stateFile, error) {
	data, err := os.ReadFile(stateFilePath())
	if err != nil {
		return stateFile{}, fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return stateFile{}, fmt.Errorf("decode state file: %w", err)
	}

	if state.Runs == nil {
		state.Runs = map[string]Run{}
	}

	return state, nil
}

func writeStateFile(state stateFile) error {
	if state.Runs == nil {
		state.Runs = map[string]Run{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := stateFilePath()
	if path == "" {
		return errors.New("state file path unavailable")
	}

	return writeFileAtomic(path, data)
}
