package table

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// maxTextCellWidth はテキスト出力時のセルの最大文字数。
const maxTextCellWidth = 40

// WriteText は表をタブ揃えのテキストとしてwに書き出す。0件の場合は空メッセージを書く。
func WriteText(w io.Writer, t Table, rows []Row) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, t.Empty())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(upper(t.Header()), "\t"))
	for _, cells := range t.Rows(rows) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = Truncate(oneLine(c.Text), maxTextCellWidth)
			if c.HTML {
				parts[i] = Truncate(oneLine(StripTags(c.Text)), maxTextCellWidth)
			}
		}
		fmt.Fprintln(tw, strings.Join(parts, "\t"))
	}
	return tw.Flush()
}

func upper(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
