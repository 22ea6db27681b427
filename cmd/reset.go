package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/config"
	"github.com/goosewin/cellfill/internal/core"
	"github.com/goosewin/cellfill/internal/state"
	"github.com/goosewin/cellfill/internal/workbook"
)

var (
	resetWorkbook string
	resetFailed   bool
	resetRows     string
	resetAll      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark rows pending again so the next run refills them",
	Long: "Reset sets the completion flag of selected rows back to 0. By default it selects rows\n" +
		"holding at least one failed cell. Existing answers stay until the next run overwrites them.",
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVarP(&resetWorkbook, "workbook", "w", "", "Workbook path (.xlsx)")
	resetCmd.Flags().BoolVar(&resetFailed, "failed", false, "Reset rows with failed cells (default)")
	resetCmd.Flags().StringVar(&resetRows, "rows", "", "Reset explicit rows, e.g. 5,9 or 4-12")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Reset every data row")
	resetCmd.MarkFlagsMutuallyExclusive("failed", "rows", "all")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path := stringFlag(resetWorkbook, cmd.Flags().Changed("workbook"), settings.WorkbookFile)

	opts := core.ResetOptions{Mode: core.ResetFailed}
	switch {
	case resetAll:
		opts.Mode = core.ResetAll
	case cmd.Flags().Changed("rows"):
		rows, err := parseRowList(resetRows)
		if err != nil {
			return err
		}
		opts.Mode = core.ResetRows
		opts.Rows = rows
	}

	logger, closer, err := newLogger(settings, "warn")
	if err != nil {
		return err
	}
	defer closer.Close()

	defs, err := loadBackends(settings.BackendsFile, logger)
	if err != nil {
		return err
	}

	// Resetting under a live run would race its per-row saves.
	if err := ensureNoActiveRun(path); err != nil {
		return err
	}

	changed, err := resetWorkbookRows(path, backend.Names(defs), settings, opts, logger)
	if err != nil {
		return err
	}

	if len(changed) == 0 {
		pterm.Info.Println("Nothing to reset")
		return nil
	}
	logger.WithField("rows", joinInts(changed)).Info("rows reset to pending")
	pterm.Success.Printfln("Reset %d rows to pending: %s", len(changed), joinInts(changed))
	return nil
}

// ensureNoActiveRun only blocks on a live run. Ledger problems do not block a reset.
func ensureNoActiveRun(path string) error {
	if _, err := state.CleanupStale(state.CleanupMark); err != nil {
		return nil
	}
	runs, err := state.ListRuns(path)
	if err != nil {
		return nil
	}
	for _, run := range runs {
		if run.Status == state.StatusRunning {
			return fmt.Errorf("%w: run %s (pid %d)", state.ErrRunActive, shortRunID(run.ID), run.PID)
		}
	}
	return nil
}

func resetWorkbookRows(path string, names []string, settings config.Settings, opts core.ResetOptions, logger logrus.FieldLogger) ([]int, error) {
	book, err := workbook.Open(path, names, workbookOptions(settings, logger))
	if err != nil {
		return nil, err
	}
	defer book.Close()
	return core.Reset(book, opts)
}

func parseRowList(value string) ([]int, error) {
	rows := []int{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(from))
			if err != nil {
				return nil, fmt.Errorf("invalid row range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(to))
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid row range %q", part)
			}
			for row := start; row <= end; row++ {
				rows = append(rows, row)
			}
			continue
		}
		row, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid row %q", part)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no rows given")
	}
	return rows, nil
}
