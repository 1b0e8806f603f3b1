package table

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/hitoshi/mfgconsole/internal/security"
)

var sanitizer = security.NewContentSanitizer()

// StripTags はHTML断片からタグを除去したテキストを返す。
func StripTags(s string) string {
	return sanitizer.StripTags(s)
}

// htmlCell はテンプレートに渡すセル。
type htmlCell struct {
	Cell
	Content template.HTML
}

type htmlRow struct {
	Link  string
	Cells []htmlCell
}

type htmlTable struct {
	Header []string
	Rows   []htmlRow
	Empty  string
}

var htmlTableTmpl = template.Must(template.New("table").Parse(`{{if not .Rows -}}
<div class="empty-state"><p>{{.Empty}}</p></div>
{{- else -}}
<div class="table-wrap">
<table class="data-table">
<thead><tr>{{range .Header}}<th scope="col" class="table-header">{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}{{$link := .Link}}
<tr{{if $link}} class="table-row-hover"{{end}}>
{{- range $i, $c := .Cells}}<td class="table-cell">
{{- if and (eq $i 0) $link}}<a class="row-link" href="{{$link}}">{{end -}}
{{- if eq $c.Kind.String "badge"}}<span class="badge {{$c.Class}}">{{$c.Text}}</span>
{{- else if eq $c.Kind.String "progress"}}<span class="progress"><span class="progress-bar" style="width: {{printf "%.0f" $c.Percent}}%"></span></span> {{$c.Text}}
{{- else if $c.HTML}}{{$c.Content}}
{{- else}}{{$c.Text}}{{end -}}
{{- if and (eq $i 0) $link}}</a>{{end -}}
</td>{{end}}
</tr>
{{- end}}
</tbody>
</table>
</div>
{{- end}}`))

// HTML は表をHTML断片として返す。
// Custom列のHTML出力はサニタイズしてから埋め込み、それ以外のセルはエスケープする。
// RowLinkがある場合は先頭セルをリンクにする。無い場合、行はリンクを持たない。
func HTML(t Table, rows []Row) (template.HTML, error) {
	data := htmlTable{
		Header: t.Header(),
		Empty:  t.Empty(),
	}
	for i, cells := range t.Rows(rows) {
		hr := htmlRow{Link: t.Link(rows[i])}
		for _, c := range cells {
			hc := htmlCell{Cell: c}
			if c.HTML {
				hc.Content = template.HTML(sanitizer.Sanitize(c.Text))
			}
			hr.Cells = append(hr.Cells, hc)
		}
		data.Rows = append(data.Rows, hr)
	}

	var buf bytes.Buffer
	if err := htmlTableTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render table: %w", err)
	}
	return template.HTML(buf.String()), nil
}
