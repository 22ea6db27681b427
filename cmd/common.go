package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/config"
	"github.com/goosewin/cellfill/internal/logging"
	"github.com/goosewin/cellfill/internal/workbook"
)

func loadConfigForCwd() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	_, err = config.LoadConfig(cwd)
	return err
}

func loadSettings() (config.Settings, error) {
	if err := loadConfigForCwd(); err != nil {
		return config.Settings{}, err
	}
	return config.Current(), nil
}

// newLogger builds the command logger. consoleLevel may be empty to follow
// the configured level.
func newLogger(settings config.Settings, consoleLevel string) (*logrus.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:        settings.LogLevel,
		ConsoleLevel: consoleLevel,
		Dir:          settings.LogDir,
		RetainDays:   settings.LogRetainDays,
	})
}

// quietLogger reports only errors on the console and writes nothing to disk.
// Read-only commands use it so they do not clutter the run log.
func quietLogger() *logrus.Logger {
	logger, _, err := logging.New(logging.Options{Level: "error"})
	if err != nil {
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
	}
	return logger
}

func loadBackends(path string, log logrus.FieldLogger) ([]backend.Definition, error) {
	defs := backend.LoadDefinitions(path, log)
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w in %s", backend.ErrNoBackends, path)
	}
	return defs, nil
}

func workbookOptions(settings config.Settings, log logrus.FieldLogger) workbook.Options {
	return workbook.Options{
		Sheet:  settings.WorkbookSheet,
		Font:   settings.WorkbookFont,
		Logger: log,
	}
}

func stringFlag(value string, changed bool, fallback string) string {
	if changed {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(fallback)
}
