package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/workbook"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   []backend.Request
	respond func(req backend.Request) backend.Result
}

func (f *fakeClient) Generate(_ context.Context, req backend.Request) backend.Result {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.respond == nil {
		return backend.Success("ok: " + req.UserPrompt)
	}
	return f.respond(req)
}

func (f *fakeClient) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompts := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		prompts = append(prompts, call.UserPrompt)
	}
	return prompts
}

func bound(name string, client backend.Client) backend.Bound {
	return backend.Bound{Definition: backend.Definition{Name: name, Protocol: backend.ProtocolOpenAIChat}, Client: client}
}

func newTable(t *testing.T, backends ...string) (*workbook.Workbook, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.xlsx")
	w, err := workbook.OpenOrCreate(path, backends, workbook.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func addRows(t *testing.T, w *workbook.Workbook, prompts ...string) []int {
	t.Helper()
	rows := make([]int, 0, len(prompts))
	row := w.Schema().FirstDataRow()
	for _, prompt := range prompts {
		if prompt != "" {
			require.NoError(t, w.Set(row, workbook.PromptHeader, prompt))
		}
		rows = append(rows, row)
		row++
	}
	require.NoError(t, w.Persist())
	return rows
}

func flagOf(t *testing.T, table Table, row int) workbook.Flag {
	t.Helper()
	flag, _, err := table.Flag(row)
	require.NoError(t, err)
	return flag
}

func valueOf(t *testing.T, table Table, row int, column string) string {
	t.Helper()
	value, err := table.Get(row, column)
	require.NoError(t, err)
	return value
}

func TestRunPassEndToEnd(t *testing.T) {
	w, path := newTable(t, "GPT")
	rows := addRows(t, w, "Translate: hello", "", "Summarize: ...")

	client := &fakeClient{respond: func(req backend.Request) backend.Result {
		if strings.HasPrefix(req.UserPrompt, "Summarize") {
			return backend.FailStatus(500, "boom")
		}
		return backend.Success("bonjour")
	}}
	logger, _ := logtest.NewNullLogger()

	result, err := RunPass(context.Background(), PassOptions{
		Table:        w,
		Backends:     []backend.Bound{bound("GPT", client)},
		SystemPrompt: "You are terse.",
		Logger:       logger,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Translate: hello", "Summarize: ..."}, client.prompts())
	for _, call := range client.calls {
		assert.Equal(t, "You are terse.", call.SystemPrompt)
	}

	saved, err := workbook.Open(path, []string{"GPT"}, workbook.Options{})
	require.NoError(t, err, "schema must be unchanged")
	defer saved.Close()

	for _, row := range rows {
		assert.Equal(t, workbook.FlagDone, flagOf(t, saved, row), "row %d", row)
	}
	assert.Equal(t, "bonjour", valueOf(t, saved, rows[0], "GPT"))
	assert.Empty(t, valueOf(t, saved, rows[1], "GPT"))
	failure := valueOf(t, saved, rows[2], "GPT")
	assert.True(t, backend.IsFailure(failure))
	assert.Equal(t, "Error (GPT): API request failed. Status: 500. Detail: boom", failure)

	assert.Equal(t, 3, result.WorkRows)
	assert.Equal(t, 3, result.Normalized)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.EmptyPrompt)
	assert.Equal(t, 1, result.CellSuccesses)
	assert.Equal(t, 1, result.CellFailures)
	assert.Zero(t, result.PersistFailures)
}

func TestRunPassLeavesDoneRowsUntouched(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "first", "second")
	require.NoError(t, w.SetFlag(rows[0], workbook.FlagDone))
	require.NoError(t, w.Set(rows[0], "GPT", "Error (GPT): API request timed out."))

	client := &fakeClient{}
	result, err := RunPass(context.Background(), PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)

	assert.Equal(t, []string{"second"}, client.prompts())
	assert.Equal(t, "Error (GPT): API request timed out.", valueOf(t, w, rows[0], "GPT"))
	assert.Equal(t, 1, result.AlreadyDone)

	again, err := RunPass(context.Background(), PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)
	assert.Len(t, client.prompts(), 1, "a second pass must not call any backend")
	assert.Equal(t, 2, again.AlreadyDone)
	assert.Zero(t, again.Normalized)
}

func TestRunPassSkipsGuideRows(t *testing.T) {
	w, _ := newTable(t, "GPT")
	require.NoError(t, w.Set(workbook.HeaderRow+1, workbook.PromptHeader, "not a work row"))
	rows := addRows(t, w, "real")

	client := &fakeClient{}
	_, err := RunPass(context.Background(), PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)

	assert.Equal(t, []string{"real"}, client.prompts())
	assert.Equal(t, workbook.FlagUnset, flagOf(t, w, workbook.HeaderRow+1))
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[0]))
}

func TestRunPassCoercesInvalidFlag(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "hello")
	require.NoError(t, w.Set(rows[0], workbook.FlagHeader, "7"))

	logger, hook := logtest.NewNullLogger()
	client := &fakeClient{}
	result, err := RunPass(context.Background(), PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}, Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, client.prompts())
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[0]))
	assert.Equal(t, 1, result.Processed)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "invalid completion flag") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestRunPassContainsBackendPanic(t *testing.T) {
	w, _ := newTable(t, "GPT", "Gemini")
	rows := addRows(t, w, "poison", "fine")

	panicky := &fakeClient{respond: func(req backend.Request) backend.Result {
		if req.UserPrompt == "poison" {
			panic("decoder exploded")
		}
		return backend.Success("gpt")
	}}
	steady := &fakeClient{respond: func(backend.Request) backend.Result { return backend.Success("gemini") }}

	_, err := RunPass(context.Background(), PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", panicky), bound("Gemini", steady)}})
	require.NoError(t, err)

	assert.Equal(t, "Error (GPT): Processing API response failed. decoder exploded", valueOf(t, w, rows[0], "GPT"))
	assert.Equal(t, "gemini", valueOf(t, w, rows[0], "Gemini"))
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[0]))
	assert.Equal(t, "gpt", valueOf(t, w, rows[1], "GPT"))
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[1]))
}

type panicTable struct {
	*workbook.Workbook
	row int
}

func (p *panicTable) Prompt(row int) (string, error) {
	if row == p.row {
		panic("corrupt cell")
	}
	return p.Workbook.Prompt(row)
}

func TestRunPassIsolatesRowFailure(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "bad", "good")

	client := &fakeClient{}
	result, err := RunPass(context.Background(), PassOptions{
		Table:    &panicTable{Workbook: w, row: rows[0]},
		Backends: []backend.Bound{bound("GPT", client)},
	})
	require.NoError(t, err)

	assert.Equal(t, "Error: processing row failed: panic: corrupt cell", valueOf(t, w, rows[0], "GPT"))
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[0]))
	assert.Equal(t, []string{"good"}, client.prompts())
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[1]))
	assert.Equal(t, 1, result.RowErrors)
	assert.Equal(t, 1, result.Processed)
}

func TestRunPassMissingColumnLeavesRowPending(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "hello")

	gpt := &fakeClient{}
	ghost := &fakeClient{}
	result, err := RunPass(context.Background(), PassOptions{
		Table:    w,
		Backends: []backend.Bound{bound("Ghost", ghost), bound("GPT", gpt)},
	})
	require.NoError(t, err)

	assert.Empty(t, ghost.prompts())
	assert.Equal(t, "ok: hello", valueOf(t, w, rows[0], "GPT"))
	assert.Equal(t, workbook.FlagPending, flagOf(t, w, rows[0]))
	assert.Equal(t, 1, result.Incomplete)
	assert.Zero(t, result.Processed)
}

type flakyTable struct {
	*workbook.Workbook
	failures int
	persists int
	failLast bool
}

func (f *flakyTable) Persist() error {
	f.persists++
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	if f.failLast {
		return errors.New("read-only filesystem")
	}
	return f.Workbook.Persist()
}

func TestRunPassContinuesAfterPersistFailure(t *testing.T) {
	w, path := newTable(t, "GPT")
	rows := addRows(t, w, "one", "two", "three")

	table := &flakyTable{Workbook: w, failures: 1}
	client := &fakeClient{}
	result, err := RunPass(context.Background(), PassOptions{Table: table, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)

	assert.Len(t, client.prompts(), 3)
	assert.Equal(t, 1, result.PersistFailures)
	assert.Equal(t, 4, table.persists, "one save per row plus the final save")

	saved, err := workbook.Open(path, []string{"GPT"}, workbook.Options{})
	require.NoError(t, err)
	defer saved.Close()
	for _, row := range rows {
		assert.Equal(t, workbook.FlagDone, flagOf(t, saved, row))
	}
}

func TestRunPassReportsFinalSaveFailure(t *testing.T) {
	w, _ := newTable(t, "GPT")
	addRows(t, w, "one")

	table := &flakyTable{Workbook: w, failLast: true}
	result, err := RunPass(context.Background(), PassOptions{Table: table, Backends: []backend.Bound{bound("GPT", &fakeClient{})}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final save")
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.PersistFailures)
}

func TestRunPassParallelKeepsColumnPlacement(t *testing.T) {
	w, _ := newTable(t, "Slow", "Fast", "Broken")
	rows := addRows(t, w, "p1", "p2")

	slow := &fakeClient{respond: func(req backend.Request) backend.Result {
		time.Sleep(30 * time.Millisecond)
		return backend.Success("slow " + req.UserPrompt)
	}}
	fast := &fakeClient{respond: func(req backend.Request) backend.Result {
		return backend.Success("fast " + req.UserPrompt)
	}}
	broken := &fakeClient{respond: func(backend.Request) backend.Result {
		return backend.Fail(backend.FailureTimeout, "deadline")
	}}

	var updates []RowUpdate
	result, err := RunPass(context.Background(), PassOptions{
		Table:       w,
		Backends:    []backend.Bound{bound("Slow", slow), bound("Fast", fast), bound("Broken", broken)},
		Parallel:    true,
		RowCallback: func(update RowUpdate) { updates = append(updates, update) },
	})
	require.NoError(t, err)

	for _, row := range rows {
		prompt, err := w.Prompt(row)
		require.NoError(t, err)
		assert.Equal(t, "slow "+prompt, valueOf(t, w, row, "Slow"))
		assert.Equal(t, "fast "+prompt, valueOf(t, w, row, "Fast"))
		assert.Equal(t, "Error (Broken): API request timed out.", valueOf(t, w, row, "Broken"))
		assert.Equal(t, workbook.FlagDone, flagOf(t, w, row))
	}
	assert.Equal(t, 4, result.CellSuccesses)
	assert.Equal(t, 2, result.CellFailures)

	require.Len(t, updates, 2)
	assert.Equal(t, RowUpdate{Row: rows[0], Index: 1, Total: 2, Status: RowDone, Failures: 1}, updates[0])
	assert.Equal(t, 2, updates[1].Index)
}

func TestRunPassStopsAtRowBoundaryWhenCancelled(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "one", "two")

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(backend.Request) backend.Result {
		cancel()
		return backend.Success("done")
	}}

	result, err := RunPass(ctx, PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)

	assert.True(t, result.Stopped)
	assert.Equal(t, workbook.FlagDone, flagOf(t, w, rows[0]))
	assert.Equal(t, workbook.FlagPending, flagOf(t, w, rows[1]))
}

type cancelObservingClient struct {
	cancel  context.CancelFunc
	errSeen error
}

func (c *cancelObservingClient) Generate(ctx context.Context, req backend.Request) backend.Result {
	c.cancel()
	c.errSeen = ctx.Err()
	return backend.Success("finished")
}

func TestRunPassDoesNotCancelInFlightCalls(t *testing.T) {
	w, _ := newTable(t, "GPT")
	rows := addRows(t, w, "one")

	ctx, cancel := context.WithCancel(context.Background())
	client := &cancelObservingClient{cancel: cancel}

	_, err := RunPass(ctx, PassOptions{Table: w, Backends: []backend.Bound{bound("GPT", client)}})
	require.NoError(t, err)

	assert.NoError(t, client.errSeen)
	assert.Equal(t, "finished", valueOf(t, w, rows[0], "GPT"))
}

func TestRunPassEmptyTable(t *testing.T) {
	w, _ := newTable(t, "GPT")
	table := &flakyTable{Workbook: w}

	result, err := RunPass(context.Background(), PassOptions{Table: table, Backends: []backend.Bound{bound("GPT", &fakeClient{})}})
	require.NoError(t, err)
	assert.Zero(t, result.WorkRows)
	assert.Equal(t, 1, table.persists, "final save runs even with no rows")
}

func TestRunPassRequiresBackendsAndTable(t *testing.T) {
	w, _ := newTable(t, "GPT")

	_, err := RunPass(context.Background(), PassOptions{Table: w})
	assert.ErrorIs(t, err, backend.ErrNoBackends)

	_, err = RunPass(context.Background(), PassOptions{Backends: []backend.Bound{bound("GPT", &fakeClient{})}})
	assert.ErrorIs(t, err, ErrNoTable)
}
