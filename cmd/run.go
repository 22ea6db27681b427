package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/config"
	"github.com/goosewin/cellfill/internal/core"
	"github.com/goosewin/cellfill/internal/notify"
	"github.com/goosewin/cellfill/internal/progress"
	"github.com/goosewin/cellfill/internal/state"
	"github.com/goosewin/cellfill/internal/workbook"
)

var (
	runBackendsFile string
	runWorkbook     string
	runSystemPrompt string
	runTimeout      int
	runParallel     bool
	runProgress     bool
	runWebhook      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fill every pending row of the workbook",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	registerRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runBackendsFile, "backends", "c", "", "Backend definitions file (INI with [API_*] sections)")
	cmd.Flags().StringVarP(&runWorkbook, "workbook", "w", "", "Workbook path (.xlsx)")
	cmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "System prompt file")
	cmd.Flags().IntVar(&runTimeout, "timeout", 0, "Per-request timeout in seconds")
	cmd.Flags().BoolVar(&runParallel, "parallel", false, "Call the backends of one row concurrently")
	cmd.Flags().BoolVar(&runProgress, "progress", false, "Show a progress bar instead of per-row logs")
	cmd.Flags().StringVar(&runWebhook, "webhook", "", "Notification webhook URL")
}

type runSettings struct {
	config.Settings
	Progress bool
}

func resolveRunSettings(flags *pflag.FlagSet, settings config.Settings) (runSettings, error) {
	resolved := runSettings{Settings: settings, Progress: runProgress}

	resolved.BackendsFile = stringFlag(runBackendsFile, flags.Changed("backends"), settings.BackendsFile)
	resolved.WorkbookFile = stringFlag(runWorkbook, flags.Changed("workbook"), settings.WorkbookFile)
	resolved.SystemPromptFile = stringFlag(runSystemPrompt, flags.Changed("system-prompt"), settings.SystemPromptFile)
	resolved.NotifyWebhook = stringFlag(runWebhook, flags.Changed("webhook"), settings.NotifyWebhook)

	if flags.Changed("timeout") {
		if runTimeout <= 0 {
			return resolved, errors.New("timeout must be a positive number of seconds")
		}
		resolved.LLMTimeout = time.Duration(runTimeout) * time.Second
	}
	if flags.Changed("parallel") {
		resolved.LLMParallel = runParallel
	}

	if resolved.BackendsFile == "" {
		return resolved, errors.New("backends file is required")
	}
	if resolved.WorkbookFile == "" {
		return resolved, errors.New("workbook path is required")
	}
	return resolved, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	base, err := loadSettings()
	if err != nil {
		return err
	}
	settings, err := resolveRunSettings(cmd.Flags(), base)
	if err != nil {
		return err
	}

	consoleLevel := ""
	if settings.Progress {
		consoleLevel = "warn"
	}
	logger, closer, err := newLogger(settings.Settings, consoleLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	defs, err := loadBackends(settings.BackendsFile, logger)
	if err != nil {
		logger.WithError(err).Error("cannot start without backends")
		return err
	}
	names := backend.Names(defs)

	systemPrompt, err := core.ReadSystemPrompt(settings.SystemPromptFile)
	if err != nil {
		logger.WithError(err).Warn("system prompt unavailable, continuing without one")
		systemPrompt = ""
	}

	runID, tracked, err := startRun(settings.WorkbookFile, logger)
	if err != nil {
		return err
	}
	log := logger.WithField("run", runID)

	book, err := workbook.OpenOrCreate(settings.WorkbookFile, names, workbookOptions(settings.Settings, log))
	if err != nil {
		var mismatch *workbook.SchemaMismatchError
		if errors.As(err, &mismatch) {
			log.WithFields(logrus.Fields{
				"expected": mismatch.Expected,
				"found":    mismatch.Found,
			}).Error("workbook header does not match the configured backends; fix the header or the backend file")
		}
		if tracked {
			_, _ = state.FinishRun(runID, state.Outcome{Err: err})
		}
		return err
	}
	defer book.Close()

	if err := book.SetGuide(core.GuideLines(systemPrompt, names)); err != nil {
		log.WithError(err).Warn("write guide rows")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reporter *progress.Reporter
	var callback core.RowCallback
	if settings.Progress {
		reporter = progress.New(os.Stderr)
		callback = reporter.Callback()
	}

	result, passErr := core.RunPass(ctx, core.PassOptions{
		Table:        book,
		Backends:     backend.Bind(defs, backend.ClientOptions{Timeout: settings.LLMTimeout, Logger: logger}),
		SystemPrompt: systemPrompt,
		Logger:       log,
		Parallel:     settings.LLMParallel,
		RowCallback:  callback,
	})
	if reporter != nil {
		_ = reporter.Finish()
	}

	outcome := state.Outcome{
		Processed: result.Processed,
		Failures:  result.CellFailures + result.RowErrors,
		Err:       passErr,
	}
	if passErr == nil && result.Stopped {
		outcome.Status = state.StatusFailed
		outcome.Err = errors.New("interrupted")
	}
	if tracked {
		if _, err := state.FinishRun(runID, outcome); err != nil {
			log.WithError(err).Warn("record run outcome")
		}
	}

	sendRunNotification(settings.Settings, runID, book.Path(), result, outcome, log)
	printRunSummary(book.Path(), result, passErr)
	return passErr
}

// startRun records the run in the ledger. A ledger that cannot be written does
// not block the run; a live run on the same workbook does.
func startRun(workbookPath string, log logrus.FieldLogger) (string, bool, error) {
	run, err := state.StartRun(workbookPath)
	if err == nil {
		return run.ID, true, nil
	}
	if errors.Is(err, state.ErrRunActive) {
		log.WithError(err).Error("refusing to start a second run on the same workbook")
		return "", false, err
	}
	log.WithError(err).Warn("run ledger unavailable, continuing untracked")
	return uuid.NewString(), false, nil
}

func sendRunNotification(settings config.Settings, runID, workbookPath string, result core.PassResult, outcome state.Outcome, log logrus.FieldLogger) {
	if settings.NotifyWebhook == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settings.NotifyTimeout+5*time.Second)
	defer cancel()

	var err error
	if outcome.Err == nil {
		err = notify.NotifyComplete(ctx, notify.CompleteOptions{
			RunID:      runID,
			WebhookURL: settings.NotifyWebhook,
			Workbook:   workbookPath,
			Processed:  outcome.Processed,
			Failures:   outcome.Failures,
			Duration:   result.Duration,
			Timeout:    settings.NotifyTimeout,
		})
	} else {
		reason := notify.ReasonError
		if result.Stopped {
			reason = notify.ReasonInterrupted
		}
		err = notify.NotifyFailed(ctx, notify.FailedOptions{
			RunID:         runID,
			WebhookURL:    settings.NotifyWebhook,
			Workbook:      workbookPath,
			FailureReason: reason,
			Processed:     outcome.Processed,
			Failures:      outcome.Failures,
			Duration:      result.Duration,
			Timeout:       settings.NotifyTimeout,
		})
	}
	if err != nil {
		log.WithError(err).Warn("webhook notification failed")
		return
	}
	log.Debug("webhook notification sent")
}

func printRunSummary(workbookPath string, result core.PassResult, passErr error) {
	data := pterm.TableData{
		{"ROWS", "COUNT"},
		{"Work rows", strconv.Itoa(result.WorkRows)},
		{"Filled", strconv.Itoa(result.Processed)},
		{"Already done", strconv.Itoa(result.AlreadyDone)},
		{"Empty prompt", strconv.Itoa(result.EmptyPrompt)},
		{"Left pending", strconv.Itoa(result.Incomplete)},
		{"Row errors", strconv.Itoa(result.RowErrors)},
		{"Failed cells", strconv.Itoa(result.CellFailures)},
	}
	if result.PersistFailures > 0 {
		data = append(data, []string{"Save failures", strconv.Itoa(result.PersistFailures)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	duration := result.Duration.Round(time.Millisecond)
	switch {
	case passErr != nil:
		pterm.Error.Printfln("Run failed after %s: %v", duration, passErr)
	case result.Stopped:
		pterm.Warning.Printfln("Run interrupted after %s; rerun to continue with %s", duration, workbookPath)
	case result.CellFailures > 0 || result.RowErrors > 0:
		pterm.Warning.Printfln("Finished in %s with failures; see %s or run 'cellfill reset --failed'", duration, workbookPath)
	default:
		pterm.Success.Printfln("Finished in %s: %s", duration, workbookPath)
	}
}
