package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Placeholder は値が無い場合の表示。
const Placeholder = "-"

// 日付の表示形式
const (
	DateLayout     = "Jan 02, 2006"
	DateTimeLayout = "Jan 02, 2006 15:04"
)

// バックエンドが返す日付文字列の形式
var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toFloat は数値として解釈できる値をfloat64に変換する。
// バックエンドのDecimalフィールドは文字列で返るため文字列も受け付ける。
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// FormatText は値をそのまま文字列にする。
func FormatText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// groupIndian は整数部をインド式（下3桁、以降2桁ごと）にカンマ区切りする。
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

// formatIndian はfをen-IN形式で小数点以下minDec〜maxDec桁に整形する。
func formatIndian(f float64, minDec, maxDec int) string {
	neg := f < 0
	s := strconv.FormatFloat(math.Abs(f), 'f', maxDec, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	for len(frac) > minDec && strings.HasSuffix(frac, "0") {
		frac = frac[:len(frac)-1]
	}
	out := groupIndian(intPart)
	if frac != "" {
		out += "." + frac
	}
	if neg && strings.Trim(out, "0.,") != "" {
		out = "-" + out
	}
	return out
}

// FormatCurrency はINRの金額として整形する（例: ₹1,23,456.50）。
func FormatCurrency(v any) string {
	if isBlank(v) {
		return Placeholder
	}
	f, ok := toFloat(v)
	if !ok {
		return FormatText(v)
	}
	s := formatIndian(f, 2, 2)
	if strings.HasPrefix(s, "-") {
		return "-₹" + s[1:]
	}
	return "₹" + s
}

// FormatNumber はen-IN形式の桁区切りで整形する（小数点以下最大3桁）。
func FormatNumber(v any) string {
	if isBlank(v) {
		return Placeholder
	}
	f, ok := toFloat(v)
	if !ok {
		return FormatText(v)
	}
	return formatIndian(f, 0, 3)
}

// FormatPercentage は小数点以下2桁のパーセント表記にする。
func FormatPercentage(v any) string {
	if isBlank(v) {
		return Placeholder
	}
	f, ok := toFloat(v)
	if !ok {
		return FormatText(v)
	}
	return strconv.FormatFloat(f, 'f', 2, 64) + "%"
}

// parseDate はバックエンドの日付表現を解釈する。
func parseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateInputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// FormatDate は日付を "Jan 02, 2006" 形式にする。解釈できない値はそのまま返す。
func FormatDate(v any) string {
	return formatTime(v, DateLayout)
}

// FormatDateTime は日時を "Jan 02, 2006 15:04" 形式にする。
func FormatDateTime(v any) string {
	return formatTime(v, DateTimeLayout)
}

func formatTime(v any, layout string) string {
	if isBlank(v) {
		return Placeholder
	}
	t, ok := parseDate(v)
	if !ok {
		return FormatText(v)
	}
	return t.Format(layout)
}

// Truncate はsをn文字に切り詰め、切り詰めた場合は"..."を付ける。
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// Capitalize は各単語の先頭を大文字にする。
func Capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
