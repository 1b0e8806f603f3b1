// Package table は一覧データを列定義に従って表示用のセルに変換する。
// 列の表示方法は閉じた種類（Kind）で表し、特殊な表示のみCustomの整形関数を使う。
package table

import (
	"math"
	"strconv"
	"strings"
)

// Kind は列の表示方法。
type Kind int

const (
	KindText Kind = iota
	KindBadge
	KindCurrency
	KindPercentage
	KindNumber
	KindDate
	KindDateTime
	KindProgress
	KindCustom
)

// String は種類名を返す。
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBadge:
		return "badge"
	case KindCurrency:
		return "currency"
	case KindPercentage:
		return "percentage"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindProgress:
		return "progress"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Row は1行分のレコード。APIレスポンスのJSONオブジェクトをそのまま保持する。
type Row map[string]any

// Value はドット区切りのパス（例: "customer.company_name"）で値を取り出す。
func (r Row) Value(path string) any {
	if v, ok := r[path]; ok {
		return v
	}
	var cur any = map[string]any(r)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if row, isRow := cur.(Row); isRow {
				m = row
			} else {
				return nil
			}
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// String はpathの値をテキストとして返す。
func (r Row) String(path string) string {
	return FormatText(r.Value(path))
}

// Formatter はCustom列の整形関数。フィールドの値と行全体を受け取る純粋関数であること。
type Formatter func(value any, row Row) string

// Column は1列分の定義。
type Column struct {
	Key   string
	Label string
	Kind  Kind

	// LabelKey はBadge列の表示名を持つフィールド（例: "status_display"）。
	LabelKey string
	// Format はCustom列の整形関数。
	Format Formatter
	// HTML はCustom列の出力がHTMLであることを示す。HTML出力時はサニタイズされる。
	HTML bool
}

// TextColumn はテキスト列を定義する。
func TextColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindText}
}

// BadgeColumn はステータスバッジ列を定義する。labelKeyが空の場合はステータス値から表示名を作る。
func BadgeColumn(key, label, labelKey string) Column {
	return Column{Key: key, Label: label, Kind: KindBadge, LabelKey: labelKey}
}

// CurrencyColumn はINR金額列を定義する。
func CurrencyColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindCurrency}
}

// PercentageColumn はパーセント列を定義する。
func PercentageColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindPercentage}
}

// NumberColumn は数値列を定義する。
func NumberColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindNumber}
}

// DateColumn は日付列を定義する。
func DateColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindDate}
}

// DateTimeColumn は日時列を定義する。
func DateTimeColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindDateTime}
}

// ProgressColumn は進捗（0〜100）列を定義する。
func ProgressColumn(key, label string) Column {
	return Column{Key: key, Label: label, Kind: KindProgress}
}

// CustomColumn は整形関数で表示する列を定義する。
func CustomColumn(key, label string, format Formatter) Column {
	return Column{Key: key, Label: label, Kind: KindCustom, Format: format}
}

// Cell は表示用に変換された1セル。
type Cell struct {
	Kind Kind
	Text string
	// Class はBadgeセルの色クラス。
	Class string
	// Percent はProgressセルの進捗（0〜100に丸めた値）。
	Percent float64
	// HTML はTextがHTML断片であることを示す。
	HTML bool
	// Raw は元の値。
	Raw any
}

// Render は1セルを表示用に変換する。
// 整形関数を持つ列では元の値を表示せず、必ず整形関数の結果を使う。
func (c Column) Render(row Row) Cell {
	v := row.Value(c.Key)
	cell := Cell{Kind: c.Kind, Raw: v}

	switch c.Kind {
	case KindBadge:
		status := FormatText(v)
		label := ""
		if c.LabelKey != "" {
			label = row.String(c.LabelKey)
		}
		cell.Class = BadgeClass(status)
		cell.Text = BadgeLabel(status, label)
		if cell.Text == "" {
			cell.Text = Placeholder
		}
	case KindCurrency:
		cell.Text = FormatCurrency(v)
	case KindPercentage:
		cell.Text = FormatPercentage(v)
	case KindNumber:
		cell.Text = FormatNumber(v)
	case KindDate:
		cell.Text = FormatDate(v)
	case KindDateTime:
		cell.Text = FormatDateTime(v)
	case KindProgress:
		f, _ := toFloat(v)
		cell.Percent = math.Max(0, math.Min(100, f))
		cell.Text = strconv.FormatFloat(cell.Percent, 'f', 0, 64) + "%"
	case KindCustom:
		if c.Format != nil {
			cell.Text = c.Format(v, row)
			cell.HTML = c.HTML
		} else {
			cell.Text = FormatText(v)
		}
	default:
		cell.Text = FormatText(v)
	}
	return cell
}

// DefaultEmptyMessage は0件時の既定メッセージ。
const DefaultEmptyMessage = "No data available"

// Table は一覧表の定義。
//
// OnRowSelectまたはRowLinkが設定されている場合のみ行は操作可能になる。
// どちらも無い場合、行はリンクも選択も持たない。
type Table struct {
	Columns      []Column
	EmptyMessage string
	OnRowSelect  func(Row)
	RowLink      func(Row) string
}

// Header は列見出しを返す。
func (t Table) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Label
	}
	return h
}

// Rows は各行を列定義に従ってセルに変換する。行の順序は入力のまま保持する。
func (t Table) Rows(rows []Row) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, row := range rows {
		cells := make([]Cell, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = c.Render(row)
		}
		out[i] = cells
	}
	return out
}

// Empty は0件時に表示するメッセージを返す。
func (t Table) Empty() string {
	if t.EmptyMessage != "" {
		return t.EmptyMessage
	}
	return DefaultEmptyMessage
}

// Interactive は行が操作可能かを返す。
func (t Table) Interactive() bool {
	return t.OnRowSelect != nil || t.RowLink != nil
}

// Select は行の選択を通知する。OnRowSelectが無い場合は何もせずfalseを返す。
func (t Table) Select(row Row) bool {
	if t.OnRowSelect == nil {
		return false
	}
	t.OnRowSelect(row)
	return true
}

// Link は行のリンク先を返す。RowLinkが無い場合は空文字列。
func (t Table) Link(row Row) string {
	if t.RowLink == nil {
		return ""
	}
	return t.RowLink(row)
}
