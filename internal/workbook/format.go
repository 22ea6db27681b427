package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	guideWidth   = 40
	promptWidth  = 40
	flagWidth    = 15
	backendWidth = 60
	rowHeight    = 21
	headerSize   = 14
	bodySize     = 12
)

type styles struct {
	header   int
	centered int
	output   int
}

func (w *Workbook) newStyles() (styles, error) {
	header, err := w.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: headerSize, Family: w.font},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return styles{}, fmt.Errorf("header style: %w", err)
	}
	centered, err := w.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: bodySize, Family: w.font},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return styles{}, fmt.Errorf("body style: %w", err)
	}
	output, err := w.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: bodySize, Family: w.font},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
	})
	if err != nil {
		return styles{}, fmt.Errorf("output style: %w", err)
	}
	return styles{header: header, centered: centered, output: output}, nil
}

// ApplyFormatting sets column widths, fonts, alignment and row heights.
// It only touches presentation and can run any number of times.
func (w *Workbook) ApplyFormatting() error {
	st, err := w.newStyles()
	if err != nil {
		return err
	}

	last, err := w.LastRow()
	if err != nil {
		return err
	}
	if last < HeaderRow {
		last = HeaderRow
	}

	widths := map[int]float64{
		w.schema.GuideColumn():  guideWidth,
		w.schema.PromptColumn(): promptWidth,
		w.schema.FlagColumn():   flagWidth,
	}
	for _, name := range w.schema.Backends {
		if idx, ok := w.schema.Column(name); ok {
			widths[idx] = backendWidth
		}
	}
	for idx, width := range widths {
		col, err := excelize.ColumnNumberToName(idx)
		if err != nil {
			return err
		}
		if err := w.file.SetColWidth(w.sheet, col, col, width); err != nil {
			return fmt.Errorf("set width of %s: %w", col, err)
		}
	}

	lastCol := len(w.schema.Headers())
	if err := w.styleRange(1, HeaderRow, lastCol, HeaderRow, st.header); err != nil {
		return err
	}

	if last > HeaderRow {
		fixedLast := w.schema.FlagColumn()
		if err := w.styleRange(1, HeaderRow+1, fixedLast, last, st.centered); err != nil {
			return err
		}
		if lastCol > fixedLast {
			if err := w.styleRange(fixedLast+1, HeaderRow+1, lastCol, last, st.output); err != nil {
				return err
			}
		}
	}

	for row := HeaderRow; row <= last; row++ {
		if err := w.file.SetRowHeight(w.sheet, row, rowHeight); err != nil {
			return fmt.Errorf("set height of row %d: %w", row, err)
		}
	}

	w.log.WithField("rows", last).Debug("formatting applied")
	return nil
}

func (w *Workbook) styleRange(fromCol, fromRow, toCol, toRow, style int) error {
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(toCol, toRow)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(w.sheet, from, to, style); err != nil {
		return fmt.Errorf("style %s:%s: %w", from, to, err)
	}
	return nil
}
