package workbook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Header labels of the fixed columns. Existing documents depend on them.
const (
	GuideHeader  = "用户指南"
	PromptHeader = "用户提示词"
	FlagHeader   = "是否生成 (0 是 1 否)"
)

const (
	// HeaderRow holds the column labels.
	HeaderRow = 1
	// GuideRows is the number of display rows below the header that are never work rows.
	GuideRows = 2
)

var (
	ErrSchemaMismatch  = errors.New("workbook header does not match configured backends")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrDuplicateColumn = errors.New("duplicate column header")
)

// FixedHeaders returns the labels of the columns that precede the backend columns.
func FixedHeaders() []string {
	return []string{GuideHeader, PromptHeader, FlagHeader}
}

// SchemaMismatchError reports the expected and found header rows.
type SchemaMismatchError struct {
	Path     string
	Expected []string
	Found    []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: %s\n  expected: %s\n  found:    %s",
		e.Path, ErrSchemaMismatch, strings.Join(e.Expected, " | "), strings.Join(e.Found, " | "))
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// Schema is the column layout of a workbook. Column positions are computed
// here once and looked up by header everywhere else.
type Schema struct {
	Backends []string
	headers  []string
	columns  map[string]int
}

// NewSchema builds the layout for the given backend names in registry order.
func NewSchema(backends []string) Schema {
	headers := append(FixedHeaders(), backends...)
	columns := make(map[string]int, len(headers))
	for idx, header := range headers {
		if _, exists := columns[header]; !exists {
			columns[header] = idx + 1
		}
	}
	return Schema{
		Backends: append([]string(nil), backends...),
		headers:  headers,
		columns:  columns,
	}
}

// validate rejects layouts where two columns share a header, since a column
// is addressed by its header.
func (s Schema) validate() error {
	if len(s.columns) == len(s.headers) {
		return nil
	}
	seen := make(map[string]bool, len(s.headers))
	for _, header := range s.headers {
		if seen[header] {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, header)
		}
		seen[header] = true
	}
	return nil
}

// Headers returns the expected header row.
func (s Schema) Headers() []string {
	return append([]string(nil), s.headers...)
}

// Column returns the 1-based column index for a header.
func (s Schema) Column(header string) (int, bool) {
	idx, ok := s.columns[header]
	return idx, ok
}

func (s Schema) GuideColumn() int  { return s.columns[GuideHeader] }
func (s Schema) PromptColumn() int { return s.columns[PromptHeader] }
func (s Schema) FlagColumn() int   { return s.columns[FlagHeader] }

// FirstDataRow is the first row that can hold a prompt.
func (s Schema) FirstDataRow() int {
	return HeaderRow + GuideRows + 1
}

// IsGuideRow reports whether row is the header or part of the guide block.
func (s Schema) IsGuideRow(row int) bool {
	return row < s.FirstDataRow()
}

// Matches reports whether a header row read from a document equals the expected one.
func (s Schema) Matches(found []string) bool {
	if len(found) != len(s.headers) {
		return false
	}
	for idx, header := range s.headers {
		if strings.TrimSpace(found[idx]) != header {
			return false
		}
	}
	return true
}

// Flag is the completion state of a row.
type Flag int

const (
	FlagUnset Flag = iota
	FlagPending
	FlagDone
	FlagInvalid
)

// Stored flag values.
const (
	PendingValue = 0
	DoneValue    = 1
)

func (f Flag) String() string {
	switch f {
	case FlagUnset:
		return "unset"
	case FlagPending:
		return "pending"
	case FlagDone:
		return "done"
	default:
		return "invalid"
	}
}

// ParseFlag interprets a flag cell. Only the integral values 0 and 1 are valid.
func ParseFlag(raw string) Flag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FlagUnset
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return FlagInvalid
	}
	switch value {
	case PendingValue:
		return FlagPending
	case DoneValue:
		return FlagDone
	default:
		return FlagInvalid
	}
}
