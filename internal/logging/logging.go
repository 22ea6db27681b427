package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

const (
	DefaultRetainDays = 7
	filePrefix        = "cellfill-"
	fileSuffix        = ".log"
)

// Options configures New.
type Options struct {
	// Level applies to the log file.
	Level string
	// ConsoleLevel applies to Console. Empty means Level.
	ConsoleLevel string
	// Dir receives one file per day. Empty disables the file sink.
	Dir        string
	RetainDays int
	Console    io.Writer
	Now        func() time.Time
}

// New builds the run logger. The returned closer releases the log file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	consoleLevel := level
	if strings.TrimSpace(opts.ConsoleLevel) != "" {
		if consoleLevel, err = ParseLevel(opts.ConsoleLevel); err != nil {
			return nil, nil, err
		}
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   true,
	})
	logger.SetOutput(io.Discard)

	// The logger level gates both sinks, so it must admit the more verbose one.
	if consoleLevel > level {
		logger.SetLevel(consoleLevel)
	} else {
		logger.SetLevel(level)
	}

	var closer io.Closer = nopCloser{}
	if strings.TrimSpace(opts.Dir) != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		CleanupOldLogs(opts.Dir, opts.RetainDays, opts.Now())

		file, err := os.OpenFile(FilePath(opts.Dir, opts.Now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger.AddHook(&writer.Hook{Writer: file, LogLevels: levelsUpTo(level)})
		closer = file
	}

	logger.AddHook(&writer.Hook{Writer: opts.Console, LogLevels: levelsUpTo(consoleLevel)})
	return logger, closer, nil
}

// ParseLevel accepts logrus level names. Empty means info.
func ParseLevel(value string) (logrus.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(value)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}
	return level, nil
}

// FilePath returns the log file for the day of now.
func FilePath(dir string, now time.Time) string {
	return filepath.Join(dir, filePrefix+now.Format("2006-01-02")+fileSuffix)
}

// CleanupOldLogs removes log files last modified before the retention window.
func CleanupOldLogs(dir string, retainDays int, now time.Time) []string {
	if retainDays <= 0 {
		retainDays = DefaultRetainDays
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	removed := []string{}
	cutoff := now.Add(-time.Duration(retainDays) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed = append(removed, entry.Name())
			}
		}
	}
	return removed
}

func levelsUpTo(max logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, level := range logrus.AllLevels {
		if level <= max {
			levels = append(levels, level)
		}
	}
	return levels
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
