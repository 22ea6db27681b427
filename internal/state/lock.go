package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	defaultLockTimeout = 10 * time.Second
	lockPollInterval   = 100 * time.Millisecond
)

// ledgerPaths holds the on-disk locations of the ledger, resolved from the
// environment on every call so tests can redirect them with t.Setenv.
type ledgerPaths struct {
	dir     string
	file    string
	lock    string
	lockDir string
}

func resolvePaths() ledgerPaths {
	paths := ledgerPaths{dir: os.Getenv("CELLFILL_STATE_DIR")}
	if paths.dir == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			paths.dir = filepath.Join(home, ".config", "cellfill")
		}
	}

	paths.file = envOr("CELLFILL_STATE_FILE", joinIfSet(paths.dir, "state.json"))
	paths.lock = envOr("CELLFILL_LOCK_FILE", joinIfSet(paths.dir, "state.lock"))
	lockDir := ""
	if paths.lock != "" {
		lockDir = paths.lock + ".dir"
	}
	paths.lockDir = envOr("CELLFILL_LOCK_DIR", lockDir)
	return paths
}

func stateDir() string      { return resolvePaths().dir }
func stateFilePath() string { return resolvePaths().file }

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

// ledgerLock is held for the duration of one read-modify-write of the ledger.
type ledgerLock interface {
	release()
}

type flockLock struct{ file *os.File }

func (l *flockLock) release() {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
}

// dirLock is used where flock is unavailable (some network filesystems). The
// holder's pid is written inside so a dead holder can be detected.
type dirLock struct{ path string }

func (l *dirLock) release() { _ = os.RemoveAll(l.path) }

func withLock(fn func() error) error {
	lock, err := acquireLock(resolvePaths(), lockTimeout())
	if err != nil {
		return err
	}
	defer lock.release()
	return fn()
}

func acquireLock(paths ledgerPaths, timeout time.Duration) (ledgerLock, error) {
	if paths.dir == "" || paths.lock == "" {
		return nil, errors.New("state directory unavailable")
	}
	if err := os.MkdirAll(paths.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	file, err := os.OpenFile(paths.lock, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return acquireDirLock(paths.lockDir, timeout)
	}

	err = poll(timeout, func() (bool, error) {
		switch err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); {
		case err == nil:
			return true, nil
		case errors.Is(err, syscall.EWOULDBLOCK):
			return false, nil
		default:
			return false, err
		}
	})
	if err == nil {
		return &flockLock{file: file}, nil
	}
	_ = file.Close()

	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.ENOTSUP) {
		return acquireDirLock(paths.lockDir, timeout)
	}
	return nil, err
}

func acquireDirLock(path string, timeout time.Duration) (ledgerLock, error) {
	if path == "" {
		return nil, errors.New("lock directory unavailable")
	}

	pidFile := filepath.Join(path, "pid")
	err := poll(timeout, func() (bool, error) {
		if err := os.Mkdir(path, 0o755); err == nil {
			_ = os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
			return true, nil
		}
		if holder := readPid(pidFile); holder == 0 || !processAlive(holder) {
			_ = os.RemoveAll(path)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return &dirLock{path: path}, nil
}

// poll calls try until it reports success, fails, or timeout elapses.
func poll(timeout time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := try()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

func lockTimeout() time.Duration {
	seconds, err := strconv.Atoi(os.Getenv("CELLFILL_LOCK_TIMEOUT"))
	if err != nil || seconds <= 0 {
		return defaultLockTimeout
	}
	return time.Duration(seconds) * time.Second
}

// writeFileAtomic replaces path with data via a synced temp file in the same directory.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

func readPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
