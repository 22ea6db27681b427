package cmd

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/core"
	"github.com/goosewin/cellfill/internal/state"
	"github.com/goosewin/cellfill/internal/workbook"
)

var (
	statusWorkbook string
	statusRuns     int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row completion, failure cells and recent runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusWorkbook, "workbook", "w", "", "Workbook path (.xlsx)")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path := stringFlag(statusWorkbook, cmd.Flags().Changed("workbook"), settings.WorkbookFile)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		pterm.Info.Printfln("No workbook at %s yet. Create one with: cellfill init", path)
		return nil
	}

	logger := quietLogger()
	defs, err := loadBackends(settings.BackendsFile, logger)
	if err != nil {
		return err
	}

	book, err := workbook.Open(path, backend.Names(defs), workbookOptions(settings, logger))
	if err != nil {
		return err
	}
	defer book.Close()

	summary, err := core.Inspect(book)
	if err != nil {
		return err
	}

	pterm.Println(pterm.Bold.Sprint("Workbook: ") + path)
	rows := pterm.TableData{
		{"ROWS", "COUNT"},
		{"Work rows", strconv.Itoa(summary.WorkRows)},
		{"Pending", strconv.Itoa(summary.Pending + summary.Unset + summary.Invalid)},
		{"Done", strconv.Itoa(summary.Done)},
		{"Empty prompts", strconv.Itoa(summary.EmptyPrompts)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	pterm.Println("")
	failures := pterm.TableData{{"BACKEND", "FAILED CELLS"}}
	for _, name := range book.Schema().Backends {
		failures = append(failures, []string{name, strconv.Itoa(summary.Failures[name])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(failures).Render(); err != nil {
		return err
	}
	if len(summary.FailedRows) > 0 {
		pterm.Warning.Printfln("Rows with failures: %s (retry with: cellfill reset --failed)", joinInts(summary.FailedRows))
	}

	return printRecentRuns(path, statusRuns)
}

func printRecentRuns(path string, limit int) error {
	if limit <= 0 {
		return nil
	}

	_, _ = state.CleanupStale(state.CleanupMark)
	runs, err := state.ListRuns(path)
	if err != nil {
		return err
	}

	pterm.Println("")
	if len(runs) == 0 {
		pterm.Println("No recorded runs for this workbook")
		return nil
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}

	data := pterm.TableData{{"RUN", "STATUS", "STARTED", "DURATION", "ROWS", "FAILURES"}}
	for _, run := range runs {
		data = append(data, []string{
			shortRunID(run.ID),
			string(run.Status),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(run),
			strconv.Itoa(run.Processed),
			strconv.Itoa(run.Failures),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runDuration(run state.Run) string {
	if run.FinishedAt == nil {
		if run.Status == state.StatusRunning {
			return "running"
		}
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		parts = append(parts, strconv.Itoa(value))
	}
	return strings.Join(parts, ", ")
}
