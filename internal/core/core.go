package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/workbook"
)

// ErrNoTable is returned when a pass is started without a table.
var ErrNoTable = errors.New("table is required")

// Table is the storage the engine drives. *workbook.Workbook implements it.
type Table interface {
	Schema() workbook.Schema
	LastRow() (int, error)
	Flag(row int) (workbook.Flag, string, error)
	SetFlag(row int, flag workbook.Flag) error
	Prompt(row int) (string, error)
	Get(row int, column string) (string, error)
	Set(row int, column, value string) error
	NormalizePendingFlags() (int, error)
	ApplyFormatting() error
	Persist() error
}

var _ Table = (*workbook.Workbook)(nil)

// RowStatus is the outcome of one row within a pass.
type RowStatus string

const (
	RowDone        RowStatus = "done"
	RowAlreadyDone RowStatus = "already_done"
	RowEmpty       RowStatus = "empty_prompt"
	RowIncomplete  RowStatus = "incomplete"
	RowError       RowStatus = "error"
)

// RowCallback observes each row as the pass finishes it.
type RowCallback func(update RowUpdate)

// RowUpdate describes one finished row. Index counts work rows from 1.
type RowUpdate struct {
	Row      int
	Index    int
	Total    int
	Status   RowStatus
	Failures int
}

// PassOptions configures RunPass.
type PassOptions struct {
	Table        Table
	Backends     []backend.Bound
	SystemPrompt string
	Logger       logrus.FieldLogger
	// Parallel runs the backends of one row concurrently. Rows stay sequential.
	Parallel    bool
	RowCallback RowCallback
}

// PassResult holds the counters of one pass.
type PassResult struct {
	WorkRows        int
	Processed       int
	AlreadyDone     int
	EmptyPrompt     int
	Incomplete      int
	RowErrors       int
	CellSuccesses   int
	CellFailures    int
	Normalized      int
	PersistFailures int
	Stopped         bool
	Duration        time.Duration
}

type rowOutcome struct {
	status    RowStatus
	mutated   bool
	successes int
	failures  int
}

type engine struct {
	table    Table
	schema   workbook.Schema
	backends []backend.Bound
	request  backend.Request
	parallel bool
	log      logrus.FieldLogger
}

// RunPass makes one forward pass over the work rows of a table. Each row is
// fully handled and persisted before the next one starts. It returns an error
// only when the table cannot be read or the final save fails.
func RunPass(ctx context.Context, opts PassOptions) (PassResult, error) {
	result := PassResult{}
	if opts.Table == nil {
		return result, ErrNoTable
	}
	if len(opts.Backends) == 0 {
		return result, backend.ErrNoBackends
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		silent := logrus.New()
		silent.SetLevel(logrus.PanicLevel)
		log = silent
	}

	e := &engine{
		table:    opts.Table,
		schema:   opts.Table.Schema(),
		backends: opts.Backends,
		request:  backend.Request{SystemPrompt: opts.SystemPrompt},
		parallel: opts.Parallel,
		log:      log,
	}

	start := time.Now()

	normalized, err := e.table.NormalizePendingFlags()
	result.Normalized = normalized
	if err != nil {
		result.PersistFailures++
		log.WithError(err).Error("normalize completion flags")
	}

	last, err := e.table.LastRow()
	if err != nil {
		return result, fmt.Errorf("read rows: %w", err)
	}

	first := e.schema.FirstDataRow()
	if last >= first {
		result.WorkRows = last - first + 1
	}
	log.WithFields(logrus.Fields{
		"rows":     result.WorkRows,
		"backends": strings.Join(backendNames(opts.Backends), ", "),
		"parallel": opts.Parallel,
	}).Info("starting pass")

	for row := first; row <= last; row++ {
		if ctx.Err() != nil {
			result.Stopped = true
			log.WithField("row", row).Warn("pass interrupted, remaining rows left for the next run")
			break
		}

		// Cancellation is honoured between rows only. In-flight calls run to
		// their own timeout so a stop never turns into failure cells.
		outcome := e.processRow(context.WithoutCancel(ctx), row)

		switch outcome.status {
		case RowDone:
			result.Processed++
		case RowAlreadyDone:
			result.AlreadyDone++
		case RowEmpty:
			result.EmptyPrompt++
		case RowIncomplete:
			result.Incomplete++
		case RowError:
			result.RowErrors++
		}
		result.CellSuccesses += outcome.successes
		result.CellFailures += outcome.failures

		if outcome.mutated {
			if err := e.table.Persist(); err != nil {
				result.PersistFailures++
				log.WithField("row", row).WithError(err).Error("save failed, will retry after the next row")
			}
		}

		if opts.RowCallback != nil {
			opts.RowCallback(RowUpdate{
				Row:      row,
				Index:    row - first + 1,
				Total:    result.WorkRows,
				Status:   outcome.status,
				Failures: outcome.failures,
			})
		}
	}

	if err := e.table.ApplyFormatting(); err != nil {
		log.WithError(err).Warn("apply formatting")
	}
	result.Duration = time.Since(start)
	if err := e.table.Persist(); err != nil {
		result.PersistFailures++
		return result, fmt.Errorf("final save: %w", err)
	}

	log.WithFields(logrus.Fields{
		"processed":     result.Processed,
		"already_done":  result.AlreadyDone,
		"empty":         result.EmptyPrompt,
		"incomplete":    result.Incomplete,
		"row_errors":    result.RowErrors,
		"cell_failures": result.CellFailures,
		"duration":      result.Duration.Round(time.Millisecond).String(),
	}).Info("pass finished")

	return result, nil
}

// processRow never panics; anything unexpected is contained here.
func (e *engine) processRow(ctx context.Context, row int) (outcome rowOutcome) {
	log := e.log.WithField("row", row)

	defer func() {
		if r := recover(); r != nil {
			outcome = e.failRow(row, fmt.Errorf("panic: %v", r))
		}
	}()

	flag, raw, err := e.table.Flag(row)
	if err != nil {
		return e.failRow(row, err)
	}

	switch flag {
	case workbook.FlagDone:
		log.Debug("already done, skipping")
		return rowOutcome{status: RowAlreadyDone}
	case workbook.FlagInvalid, workbook.FlagUnset:
		if flag == workbook.FlagInvalid {
			log.WithField("value", raw).Warn("invalid completion flag, treating as 0")
		}
		if err := e.table.SetFlag(row, workbook.FlagPending); err != nil {
			return e.failRow(row, err)
		}
		outcome.mutated = true
	}

	prompt, err := e.table.Prompt(row)
	if err != nil {
		return e.failRow(row, err)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		if err := e.table.SetFlag(row, workbook.FlagDone); err != nil {
			return e.failRow(row, err)
		}
		log.Info("empty prompt, marked done")
		return rowOutcome{status: RowEmpty, mutated: true}
	}

	callable := make([]backend.Bound, 0, len(e.backends))
	incomplete := false
	for _, b := range e.backends {
		if _, ok := e.schema.Column(b.Name); !ok {
			log.WithField("backend", b.Name).Error("no column for backend, row stays pending")
			incomplete = true
			continue
		}
		callable = append(callable, b)
	}

	log.WithField("prompt", preview(prompt, 50)).Info("processing row")
	results := e.invokeAll(ctx, callable, prompt, log)

	for idx, b := range callable {
		res := results[idx]
		blog := log.WithField("backend", b.Name)
		if err := e.table.Set(row, b.Name, res.CellValue(b.Name)); err != nil {
			if errors.Is(err, workbook.ErrUnknownColumn) {
				blog.WithError(err).Error("no column for backend, row stays pending")
				incomplete = true
				continue
			}
			return e.failRow(row, err)
		}
		outcome.mutated = true

		if res.OK() {
			outcome.successes++
			blog.WithField("chars", len([]rune(res.Text))).Info("response stored")
			continue
		}
		outcome.failures++
		fields := logrus.Fields{"kind": res.Failure.Kind}
		if res.Failure.StatusCode > 0 {
			fields["status"] = res.Failure.StatusCode
		}
		blog.WithFields(fields).Warn(res.Failure.Error())
	}

	if incomplete {
		outcome.status = RowIncomplete
		return outcome
	}

	if err := e.table.SetFlag(row, workbook.FlagDone); err != nil {
		return e.failRow(row, err)
	}
	outcome.status = RowDone
	outcome.mutated = true
	log.WithField("failures", outcome.failures).Info("row done")
	return outcome
}

func (e *engine) invokeAll(ctx context.Context, backends []backend.Bound, prompt string, log logrus.FieldLogger) []backend.Result {
	req := e.request
	req.UserPrompt = prompt
	results := make([]backend.Result, len(backends))

	if !e.parallel || len(backends) < 2 {
		for idx, b := range backends {
			results[idx] = invoke(ctx, b, req, log)
		}
		return results
	}

	var wg conc.WaitGroup
	for idx, b := range backends {
		wg.Go(func() {
			results[idx] = invoke(ctx, b, req, log)
		})
	}
	wg.Wait()
	return results
}

func invoke(ctx context.Context, b backend.Bound, req backend.Request, log logrus.FieldLogger) (result backend.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("backend", b.Name).Errorf("backend call panicked: %v", r)
			result = backend.Fail(backend.FailureInternal, fmt.Sprint(r))
		}
	}()
	if b.Client == nil {
		return backend.Fail(backend.FailureInternal, "no client bound")
	}
	log.WithField("backend", b.Name).Debug("calling backend")
	return b.Client.Generate(ctx, req)
}

// failRow records an engine error in the first output column and forces the
// flag to done so the row is not retried forever.
func (e *engine) failRow(row int, cause error) rowOutcome {
	log := e.log.WithField("row", row)
	log.WithError(cause).Error("row failed")

	outcome := rowOutcome{status: RowError, mutated: true}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("recording row failure panicked: %v", r)
			}
		}()
		if column, ok := e.firstOutputColumn(); ok {
			if err := e.table.Set(row, column, backend.FormatRowFailure(cause)); err != nil {
				log.WithError(err).Error("write row failure")
			}
		}
		if err := e.table.SetFlag(row, workbook.FlagDone); err != nil {
			log.WithError(err).Error("mark failed row done")
		}
	}()
	return outcome
}

func (e *engine) firstOutputColumn() (string, bool) {
	for _, name := range e.schema.Backends {
		if _, ok := e.schema.Column(name); ok {
			return name, true
		}
	}
	return "", false
}

func backendNames(backends []backend.Bound) []string {
	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name)
	}
	return names
}

func preview(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
