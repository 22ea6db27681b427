package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goosewin/cellfill/internal/backend"
	"github.com/goosewin/cellfill/internal/workbook"
)

// Summary describes the completion state of a table without changing it.
type Summary struct {
	WorkRows     int
	Pending      int
	Done         int
	Unset        int
	Invalid      int
	EmptyPrompts int
	// Failures counts failure cells per backend column.
	Failures map[string]int
	// FailedRows lists rows holding at least one failure cell, ascending.
	FailedRows []int
}

func (s Summary) TotalFailures() int {
	total := 0
	for _, count := range s.Failures {
		total += count
	}
	return total
}

// Inspect walks the work rows of table.
func Inspect(table Table) (Summary, error) {
	if table == nil {
		return Summary{}, ErrNoTable
	}

	schema := table.Schema()
	summary := Summary{Failures: map[string]int{}}
	for _, name := range schema.Backends {
		summary.Failures[name] = 0
	}

	last, err := table.LastRow()
	if err != nil {
		return summary, fmt.Errorf("read rows: %w", err)
	}

	for row := schema.FirstDataRow(); row <= last; row++ {
		summary.WorkRows++

		flag, _, err := table.Flag(row)
		if err != nil {
			return summary, err
		}
		switch flag {
		case workbook.FlagPending:
			summary.Pending++
		case workbook.FlagDone:
			summary.Done++
		case workbook.FlagUnset:
			summary.Unset++
		default:
			summary.Invalid++
		}

		prompt, err := table.Prompt(row)
		if err != nil {
			return summary, err
		}
		if strings.TrimSpace(prompt) == "" {
			summary.EmptyPrompts++
		}

		failed, err := failureColumns(table, row)
		if err != nil {
			return summary, err
		}
		for _, name := range failed {
			summary.Failures[name]++
		}
		if len(failed) > 0 {
			summary.FailedRows = append(summary.FailedRows, row)
		}
	}

	return summary, nil
}

// ResetMode selects which rows Reset returns to pending.
type ResetMode string

const (
	ResetFailed ResetMode = "failed"
	ResetRows   ResetMode = "rows"
	ResetAll    ResetMode = "all"
)

type ResetOptions struct {
	Mode ResetMode
	// Rows is used by ResetRows. Every entry must be a work row.
	Rows []int
}

// Reset sets the completion flag of the selected rows back to pending and
// persists once when anything changed. It returns the rows it changed.
func Reset(table Table, opts ResetOptions) ([]int, error) {
	if table == nil {
		return nil, ErrNoTable
	}

	schema := table.Schema()
	last, err := table.LastRow()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	first := schema.FirstDataRow()

	var candidates []int
	switch opts.Mode {
	case ResetFailed, "":
		for row := first; row <= last; row++ {
			failed, err := failureColumns(table, row)
			if err != nil {
				return nil, err
			}
			if len(failed) > 0 {
				candidates = append(candidates, row)
			}
		}
	case ResetAll:
		for row := first; row <= last; row++ {
			candidates = append(candidates, row)
		}
	case ResetRows:
		if len(opts.Rows) == 0 {
			return nil, fmt.Errorf("no rows given")
		}
		for _, row := range opts.Rows {
			if schema.IsGuideRow(row) || row > last {
				return nil, fmt.Errorf("row %d is not a data row (valid: %d-%d)", row, first, last)
			}
		}
		candidates = dedupeSorted(opts.Rows)
	default:
		return nil, fmt.Errorf("unknown reset mode %q", opts.Mode)
	}

	changed := []int{}
	for _, row := range candidates {
		flag, _, err := table.Flag(row)
		if err != nil {
			return changed, err
		}
		if flag == workbook.FlagPending {
			continue
		}
		if err := table.SetFlag(row, workbook.FlagPending); err != nil {
			return changed, err
		}
		changed = append(changed, row)
	}

	if len(changed) == 0 {
		return changed, nil
	}
	if err := table.Persist(); err != nil {
		return changed, fmt.Errorf("save: %w", err)
	}
	return changed, nil
}

func failureColumns(table Table, row int) ([]string, error) {
	var failed []string
	for _, name := range table.Schema().Backends {
		value, err := table.Get(row, name)
		if err != nil {
			return nil, err
		}
		if backend.IsFailure(value) {
			failed = append(failed, name)
		}
	}
	return failed, nil
}

func dedupeSorted(rows []int) []int {
	out := append([]int(nil), rows...)
	sort.Ints(out)
	unique := make([]int, 0, len(out))
	for _, row := range out {
		if len(unique) > 0 && unique[len(unique)-1] == row {
			continue
		}
		unique = append(unique, row)
	}
	return unique
}
