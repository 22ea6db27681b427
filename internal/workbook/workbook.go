package workbook

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	DefaultSheet = "AI Prompts Comparison"
	DefaultFont  = "hei"
)

// Options configures how a workbook is opened or created.
type Options struct {
	// Sheet names the sheet of a new document. Existing documents use their active sheet.
	Sheet  string
	Font   string
	Logger logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Sheet) == "" {
		o.Sheet = DefaultSheet
	}
	if utf8.RuneCountInString(o.Sheet) > excelize.MaxSheetNameLength {
		o.Sheet = string([]rune(o.Sheet)[:excelize.MaxSheetNameLength])
	}
	if strings.TrimSpace(o.Font) == "" {
		o.Font = DefaultFont
	}
	if o.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		o.Logger = logger
	}
	return o
}

// Workbook is the tabular store: one row per prompt, one column per backend,
// and a completion flag per row. All mutations stay in memory until Persist.
type Workbook struct {
	path    string
	sheet   string
	font    string
	schema  Schema
	file    *excelize.File
	log     logrus.FieldLogger
	created bool
}

// OpenOrCreate opens the document at path, or creates it with the expected
// header row when it does not exist.
func OpenOrCreate(path string, backends []string, opts Options) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return create(path, backends, opts)
		}
		return nil, fmt.Errorf("stat workbook: %w", err)
	}
	return Open(path, backends, opts)
}

// Open loads an existing document and validates its header row. A mismatch
// returns a *SchemaMismatchError and leaves the document untouched. A sheet
// with no rows at all receives the header row in memory.
func Open(path string, backends []string, opts Options) (*Workbook, error) {
	opts = opts.withDefaults()
	schema := NewSchema(backends)
	if err := schema.validate(); err != nil {
		return nil, err
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}

	sheet := file.GetSheetName(file.GetActiveSheetIndex())
	if sheet == "" {
		if sheets := file.GetSheetList(); len(sheets) > 0 {
			sheet = sheets[0]
		}
	}

	w := &Workbook{
		path:   path,
		sheet:  sheet,
		font:   opts.Font,
		schema: schema,
		file:   file,
		log:    opts.Logger.WithFields(logrus.Fields{"workbook": path, "sheet": sheet}),
	}

	rows, err := file.GetRows(sheet)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	if len(rows) == 0 {
		if err := w.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
		w.log.Info("sheet is empty, header row initialized")
		return w, nil
	}

	if !w.schema.Matches(rows[0]) {
		_ = file.Close()
		return nil, &SchemaMismatchError{Path: path, Expected: w.schema.Headers(), Found: rows[0]}
	}

	w.log.Debug("header row matches configured backends")
	return w, nil
}

func create(path string, backends []string, opts Options) (*Workbook, error) {
	opts = opts.withDefaults()
	schema := NewSchema(backends)
	if err := schema.validate(); err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	if err := file.SetSheetName(file.GetSheetName(0), opts.Sheet); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	w := &Workbook{
		path:    path,
		sheet:   opts.Sheet,
		font:    opts.Font,
		schema:  schema,
		file:    file,
		log:     opts.Logger.WithFields(logrus.Fields{"workbook": path, "sheet": opts.Sheet}),
		created: true,
	}

	if err := w.writeHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := w.ApplyFormatting(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := w.Persist(); err != nil {
		_ = file.Close()
		return nil, err
	}

	w.log.WithField("headers", strings.Join(w.schema.Headers(), ", ")).Info("created workbook")
	return w, nil
}

func (w *Workbook) writeHeader() error {
	headers := w.schema.Headers()
	values := make([]interface{}, 0, len(headers))
	for _, header := range headers {
		values = append(values, header)
	}
	cell, err := excelize.CoordinatesToCellName(1, HeaderRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	return nil
}

func (w *Workbook) Path() string   { return w.path }
func (w *Workbook) Sheet() string  { return w.sheet }
func (w *Workbook) Schema() Schema { return w.schema }

// Created reports whether the document was created by this open.
func (w *Workbook) Created() bool { return w.created }

// LastRow returns the last row that holds any value, or 0 for an empty sheet.
func (w *Workbook) LastRow() (int, error) {
	rows, err := w.file.GetRows(w.sheet)
	if err != nil {
		return 0, fmt.Errorf("read rows: %w", err)
	}
	return len(rows), nil
}

// Flag reads the completion flag of a row along with its raw cell text.
func (w *Workbook) Flag(row int) (Flag, string, error) {
	raw, err := w.cell(row, w.schema.FlagColumn())
	if err != nil {
		return FlagInvalid, "", err
	}
	return ParseFlag(raw), raw, nil
}

// SetFlag stores FlagPending as 0 and FlagDone as 1.
func (w *Workbook) SetFlag(row int, flag Flag) error {
	var value int
	switch flag {
	case FlagPending:
		value = PendingValue
	case FlagDone:
		value = DoneValue
	default:
		return fmt.Errorf("cannot store flag %s", flag)
	}
	cell, err := excelize.CoordinatesToCellName(w.schema.FlagColumn(), row)
	if err != nil {
		return err
	}
	return w.file.SetCellValue(w.sheet, cell, value)
}

// Prompt returns the user prompt of a row.
func (w *Workbook) Prompt(row int) (string, error) {
	return w.cell(row, w.schema.PromptColumn())
}

// Get returns the value stored under a header for a row.
func (w *Workbook) Get(row int, column string) (string, error) {
	idx, ok := w.schema.Column(column)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	return w.cell(row, idx)
}

// Set stores value under a header for a row, clamped to the cell size limit.
func (w *Workbook) Set(row int, column, value string) error {
	idx, ok := w.schema.Column(column)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	cell, err := excelize.CoordinatesToCellName(idx, row)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(value) > excelize.TotalCellChars {
		w.log.WithFields(logrus.Fields{"row": row, "column": column}).
			Warnf("value exceeds %d characters, truncating", excelize.TotalCellChars)
		value = string([]rune(value)[:excelize.TotalCellChars])
	}
	return w.file.SetCellStr(w.sheet, cell, value)
}

// FindColumn scans the header row for a label. It does not rely on the schema.
func (w *Workbook) FindColumn(header string) (int, bool, error) {
	rows, err := w.file.Rows(w.sheet)
	if err != nil {
		return 0, false, fmt.Errorf("read header row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Error()
	}
	cells, err := rows.Columns()
	if err != nil {
		return 0, false, fmt.Errorf("read header row: %w", err)
	}
	for idx, value := range cells {
		if strings.TrimSpace(value) == header {
			return idx + 1, true, nil
		}
	}
	return 0, false, nil
}

// SetGuide writes display lines into the guide column below the header.
// Lines beyond the guide block are ignored.
func (w *Workbook) SetGuide(lines []string) error {
	for idx := 0; idx < GuideRows && idx < len(lines); idx++ {
		cell, err := excelize.CoordinatesToCellName(w.schema.GuideColumn(), HeaderRow+1+idx)
		if err != nil {
			return err
		}
		if err := w.file.SetCellStr(w.sheet, cell, lines[idx]); err != nil {
			return fmt.Errorf("write guide text: %w", err)
		}
	}
	return nil
}

// NormalizePendingFlags sets every empty flag cell of a work row to 0 and
// persists when anything changed. Running it again changes nothing.
func (w *Workbook) NormalizePendingFlags() (int, error) {
	last, err := w.LastRow()
	if err != nil {
		return 0, err
	}

	changed := 0
	for row := w.schema.FirstDataRow(); row <= last; row++ {
		flag, _, err := w.Flag(row)
		if err != nil {
			return changed, err
		}
		if flag != FlagUnset {
			continue
		}
		if err := w.SetFlag(row, FlagPending); err != nil {
			return changed, err
		}
		changed++
	}

	if changed == 0 {
		return 0, nil
	}

	w.log.WithField("rows", changed).Info("defaulted empty completion flags to 0")
	if err := w.Persist(); err != nil {
		return changed, err
	}
	return changed, nil
}

// Close releases the underlying document.
func (w *Workbook) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *Workbook) cell(row, col int) (string, error) {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	value, err := w.file.GetCellValue(w.sheet, name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
