package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/core"
	"github.com/goosewin/cellfill/internal/workbook"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample backend file, the system prompt file and the workbook",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

type sampleBackend struct {
	section  string
	key      string
	endpoint string
	model    string
	name     string
	kind     string
}

var sampleBackends = []sampleBackend{
	{
		section:  backend.SectionPrefix + "OpenAI",
		key:      "sk-your-key",
		endpoint: "https://api.openai.com/v1",
		model:    "gpt-4o-mini",
		name:     "GPT-4o mini",
		kind:     "openai",
	},
	{
		section:  backend.SectionPrefix + "Gemini",
		key:      "your-google-api-key",
		endpoint: "https://generativelanguage.googleapis.com/v1beta/models",
		model:    "gemini-1.5-flash",
		name:     "Gemini Flash",
		kind:     "google",
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	created, err := writeSampleBackends(settings.BackendsFile)
	if err != nil {
		return err
	}
	if created {
		pterm.Success.Printfln("Created %s (sections are disabled; fill in KEY and set ENABLED = true)", settings.BackendsFile)
	} else {
		pterm.Info.Printfln("Keeping existing %s", settings.BackendsFile)
	}

	if _, statErr := os.Stat(settings.SystemPromptFile); errors.Is(statErr, os.ErrNotExist) {
		if _, err := core.ReadSystemPrompt(settings.SystemPromptFile); err != nil {
			return err
		}
		pterm.Success.Printfln("Created empty %s", settings.SystemPromptFile)
	}

	logger := quietLogger()
	defs := backend.LoadDefinitions(settings.BackendsFile, logger)
	if len(defs) == 0 {
		pterm.Info.Printfln("No enabled backends yet; the workbook is created on the first run")
		return nil
	}

	book, err := workbook.OpenOrCreate(settings.WorkbookFile, backend.Names(defs), workbookOptions(settings, logger))
	if err != nil {
		return err
	}
	defer book.Close()

	if book.Created() {
		pterm.Success.Printfln("Created %s with columns for: %v", settings.WorkbookFile, backend.Names(defs))
	} else {
		pterm.Info.Printfln("Keeping existing %s", settings.WorkbookFile)
	}
	return nil
}

// writeSampleBackends creates a disabled sample definitions file unless one
// already exists.
func writeSampleBackends(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	file := ini.Empty()
	for idx, sample := range sampleBackends {
		section, err := file.NewSection(sample.section)
		if err != nil {
			return false, err
		}
		if idx == 0 {
			section.Comment = "; One [API_<suffix>] section per backend. NAME defaults to <suffix>.\n; TYPE is openai (default) or google."
		}
		for _, kv := range [][2]string{
			{"KEY", sample.key},
			{"ENDPOINT", sample.endpoint},
			{"MODEL", sample.model},
			{"NAME", sample.name},
			{"TYPE", sample.kind},
			{"ENABLED", "false"},
		} {
			if _, err := section.NewKey(kv[0], kv[1]); err != nil {
				return false, err
			}
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := file.SaveTo(path); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
