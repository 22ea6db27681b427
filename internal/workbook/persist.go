package workbook

import (
	"fmt"
	"os"
	"path/filepath"
)

// Persist writes the whole document to disk. The file is replaced atomically,
// so a crash mid-write leaves the previous version in place.
func (w *Workbook) Persist() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workbook dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := w.file.WriteTo(tmpFile); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write workbook: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}

	w.log.Debug("workbook saved")
	return nil
}
