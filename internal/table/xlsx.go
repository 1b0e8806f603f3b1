package table

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// 数値列の表示形式
var (
	currencyNumFmt = `"₹"#,##,##0.00`
	percentNumFmt  = `0.00"%"`
	numberNumFmt   = `#,##,##0.###`
)

// WriteXLSX は表をXLSXブックとしてwに書き出す。
// 金額・数値・パーセント・進捗列は数値セルとして書き、それ以外は表示用テキストを書く。
func WriteXLSX(w io.Writer, sheet string, t Table, rows []Row) error {
	if sheet == "" {
		sheet = "Sheet1"
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	numStyles := make(map[Kind]int)
	for kind, numFmt := range map[Kind]*string{
		KindCurrency:   &currencyNumFmt,
		KindPercentage: &percentNumFmt,
		KindProgress:   &percentNumFmt,
		KindNumber:     &numberNumFmt,
	} {
		id, err := f.NewStyle(&excelize.Style{CustomNumFmt: numFmt})
		if err != nil {
			return fmt.Errorf("failed to create number style: %w", err)
		}
		numStyles[kind] = id
	}

	widths := make([]int, len(t.Columns))
	for i, label := range t.Header() {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, label); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		widths[i] = utf8.RuneCountInString(label)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if len(t.Columns) > 0 {
		f.SetCellStyle(sheet, "A1", lastHeader, headerStyle)
	}

	for r, cells := range t.Rows(rows) {
		for c, cell := range cells {
			name, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var value any = cell.Text
			if cell.HTML {
				value = StripTags(cell.Text)
			}
			if style, ok := numStyles[cell.Kind]; ok {
				if f64, ok := toFloat(cell.Raw); ok {
					value = f64
					f.SetCellStyle(sheet, name, name, style)
				}
			}
			if err := f.SetCellValue(sheet, name, value); err != nil {
				return fmt.Errorf("failed to write cell %s: %w", name, err)
			}
			if n := utf8.RuneCountInString(cell.Text); n > widths[c] {
				widths[c] = n
			}
		}
	}

	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, float64(min(width+2, 60)))
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
