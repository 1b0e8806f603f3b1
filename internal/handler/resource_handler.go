package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/resource"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// maxExportPages はエクスポートで取得する最大ページ数。
const maxExportPages = 50

// filterField は一覧の絞り込み入力。
type filterField struct {
	Name  string
	Value string
}

// inputField はアクションフォームの入力項目。
type inputField struct {
	Name     string
	Label    string
	Type     string
	Options  []string
	Required bool
}

// actionForm はレコード単位のアクションフォーム。
type actionForm struct {
	Label     string
	URL       string
	Return    string
	CSRFToken string
	Fields    []inputField
}

// rowActions は一覧の1行に対するアクション。
type rowActions struct {
	Label     string
	DetailURL string
	Actions   []actionForm
}

// listView は一覧画面の表示内容。
type listView struct {
	Title     string
	Path      string
	Search    string
	Filters   []filterField
	Table     any
	Pager     pagerView
	Count     int
	HasCount  bool
	Rows      []rowActions
	ExportURL string
	Error     string
	State     string
}

// List はリソースの一覧画面を返す。
// クエリのpageとリソースが受け付ける絞り込み条件をバックエンドに渡す。
// GET /{section}
func (c *Console) List(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := c.resources.Definition(name)
		if err != nil {
			c.handleError(w, r, err)
			return
		}

		base := strings.TrimSuffix(r.URL.Path, "/")
		query := r.URL.Query()
		filters := filtersFrom(def, query)
		page := parsePage(query.Get("page"))

		p, err := c.resources.List(r.Context(), name, filters, page)
		if isSessionLost(err) {
			c.handleError(w, r, err)
			return
		}

		view := listView{
			Title:     def.Title,
			Path:      base,
			Search:    filters["search"],
			ExportURL: base + "/export?" + filters.Values().Encode(),
			State:     listing.Resolve(false, err, len(p.Items)).String(),
		}
		for _, f := range def.Filters {
			view.Filters = append(view.Filters, filterField{Name: f, Value: filters[f]})
		}
		if err != nil {
			view.Error = model.MessageOf(err, "Failed to load "+strings.ToLower(def.Title)+".")
			c.renderer.Render(w, http.StatusOK, pageList, c.page(w, r, def.Title, view))
			return
		}

		link := func(row table.Row) string { return base + "/" + url.PathEscape(row.String("id")) }
		html, err := table.HTML(def.Table(link), p.Items)
		if err != nil {
			c.handleError(w, r, err)
			return
		}
		view.Table = html
		view.Count, view.HasCount = p.Count, p.HasCount
		view.Pager = buildPager(base, filters, listing.PagerOf(p))

		returnURL := r.URL.RequestURI()
		csrf := middleware.CSRFTokenFromContext(r.Context())
		for _, row := range p.Items {
			ra := rowActions{Label: rowLabel(def, row), Actions: actionForms(def, row, base, returnURL, csrf)}
			// 出荷は一覧の行リンクを持たないため、書類を見る詳細画面への導線をここに置く
			if name == resource.Dispatches {
				ra.DetailURL = link(row)
			}
			if len(ra.Actions) > 0 || ra.DetailURL != "" {
				view.Rows = append(view.Rows, ra)
			}
		}

		c.renderer.Render(w, http.StatusOK, pageList, c.page(w, r, def.Title, view))
	}
}

// field は詳細画面の1項目。
type field struct {
	Key   string
	Value string
}

// documentLink は出荷書類のダウンロードリンク。
type documentLink struct {
	Type   string
	Number string
	URL    string
}

// detailView は詳細画面の表示内容。
type detailView struct {
	Title         string
	BackURL       string
	Fields        []field
	Actions       []actionForm
	History       any
	ShowDocuments bool
	Documents     []documentLink
}

// Detail はレコードの詳細画面を返す。
// 受注はステータス履歴を、出荷は添付書類を合わせて表示する。
// GET /{section}/{id}
func (c *Console) Detail(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := c.resources.Definition(name)
		if err != nil {
			c.handleError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		base := sectionBase(r.URL.Path)

		row, err := c.resources.Get(r.Context(), name, id)
		if err != nil {
			c.handleError(w, r, err)
			return
		}

		view := detailView{
			Title:   def.Title + " · " + rowLabel(def, row),
			BackURL: base,
			Fields:  rowFields(row),
			Actions: actionForms(def, row, base, r.URL.RequestURI(), middleware.CSRFTokenFromContext(r.Context())),
		}

		switch name {
		case resource.Orders:
			history, err := c.resources.OrderStatusHistory(r.Context(), id)
			if err != nil {
				c.handleError(w, r, err)
				return
			}
			view.History, err = table.HTML(resource.OrderHistoryTable, history)
			if err != nil {
				c.handleError(w, r, err)
				return
			}
		case resource.Dispatches:
			docs, err := c.resources.DispatchDocuments(r.Context(), id)
			if err != nil {
				c.handleError(w, r, err)
				return
			}
			view.ShowDocuments = true
			for _, d := range docs {
				view.Documents = append(view.Documents, documentLink{
					Type:   d.DocumentType,
					Number: d.DocumentNumber,
					URL:    base + "/" + url.PathEscape(id) + "/documents/" + url.PathEscape(string(d.ID)),
				})
			}
		}

		c.renderer.Render(w, http.StatusOK, pageDetail, c.page(w, r, def.Title, view))
	}
}

// Action はレコード単位のアクションを実行し、元の画面へ戻る。
// 結果はフラッシュメッセージで表示する。
// POST /{section}/{id}/actions/{action}
func (c *Console) Action(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		action := chi.URLParam(r, "action")
		back := safeReturn(r.PostFormValue("return"), sectionBase(r.URL.Path))

		fields := make(map[string]string)
		for k, v := range r.PostForm {
			if k == middleware.CSRFFormField || k == "return" || len(v) == 0 {
				continue
			}
			fields[k] = v[0]
		}

		_, err := c.resources.Perform(r.Context(), name, id, action, fields)
		if isSessionLost(err) {
			c.handleError(w, r, err)
			return
		}
		if err != nil {
			c.logger.Warn("action failed",
				slog.String("resource", name),
				slog.String("id", id),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			c.redirectWithFlash(w, r, back, "error", model.MessageOf(err, "Failed to "+humanizeLower(action)+"."))
			return
		}
		c.redirectWithFlash(w, r, back, "success", humanize(action)+" completed.")
	}
}

// Export は絞り込み条件に一致する全ページをExcelファイルとして返す。
// GET /{section}/export
func (c *Console) Export(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := c.resources.Definition(name)
		if err != nil {
			c.handleError(w, r, err)
			return
		}
		fetch := func(ctx context.Context, f listing.Filters, page int) (listing.Page[table.Row], error) {
			return c.resources.List(ctx, name, f, page)
		}
		rows, truncated, err := listing.Collect(r.Context(), fetch, filtersFrom(def, r.URL.Query()), maxExportPages)
		if err != nil {
			c.handleError(w, r, err)
			return
		}
		if truncated {
			c.logger.Warn("export truncated",
				slog.String("resource", name),
				slog.Int("max_pages", maxExportPages),
			)
		}

		filename := fmt.Sprintf("%s-%s.xlsx", name, time.Now().Format("20060102"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		if err := table.WriteXLSX(w, def.Title, def.Table(nil), rows); err != nil {
			c.logger.Error("export failed", slog.String("resource", name), slog.String("error", err.Error()))
			return
		}
		if c.recorder != nil {
			c.recorder.RecordExportRows("xlsx", len(rows))
		}
	}
}

// filtersFrom はクエリからリソースが受け付ける絞り込み条件を取り出す。
func filtersFrom(def resource.Definition, q url.Values) listing.Filters {
	f := listing.Filters{}
	for k, v := range q {
		if k == "page" || len(v) == 0 || !def.AcceptsFilter(k) {
			continue
		}
		if s := strings.TrimSpace(v[0]); s != "" {
			f[k] = s
		}
	}
	return f
}

// parsePage はページ番号を解釈する。不正な値は1ページ目とする。
func parsePage(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// buildPager は絞り込み条件を保ったページ移動のリンクを組み立てる。
func buildPager(base string, filters listing.Filters, p listing.Pager) pagerView {
	pageURL := func(n int) string {
		v := filters.Values()
		if n > 1 {
			v.Set("page", strconv.Itoa(n))
		}
		if len(v) == 0 {
			return base
		}
		return base + "?" + v.Encode()
	}

	view := pagerView{Page: p.Current, Total: p.Total}
	if n, ok := p.Prev(); ok {
		view.PrevURL = pageURL(n)
	}
	if n, ok := p.Next(); ok {
		view.NextURL = pageURL(n)
	}
	for _, m := range p.Strip() {
		link := pagerLink{Marker: m}
		if !m.Ellipsis && !m.Current {
			link.URL = pageURL(m.Page)
		}
		view.Links = append(view.Links, link)
	}
	return view
}

// actionForms は行に提示するアクションのフォームを組み立てる。
func actionForms(def resource.Definition, row table.Row, base, returnURL, csrf string) []actionForm {
	id := row.String("id")
	if id == "" {
		return nil
	}
	var out []actionForm
	for _, a := range def.ActionsFor(row) {
		form := actionForm{
			Label:     a.Label,
			URL:       base + "/" + url.PathEscape(id) + "/actions/" + url.PathEscape(a.Name),
			Return:    returnURL,
			CSRFToken: csrf,
		}
		for _, f := range a.Fields {
			in := inputField{Name: f.Name, Label: f.Label, Type: "text", Options: f.Options, Required: f.Required}
			if f.Numeric {
				in.Type = "number"
			}
			form.Fields = append(form.Fields, in)
		}
		out = append(out, form)
	}
	return out
}

// rowLabel は行を識別する表示名として先頭列の値を返す。
func rowLabel(def resource.Definition, row table.Row) string {
	if len(def.Columns) > 0 {
		if text := table.StripTags(def.Columns[0].Render(row).Text); text != "" && text != "-" {
			return text
		}
	}
	return "#" + row.String("id")
}

// rowFields は詳細画面に表示する項目をキー順に返す。入れ子の値は省略する。
func rowFields(row table.Row) []field {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []field
	for _, k := range keys {
		switch row[k].(type) {
		case map[string]any, []any:
			continue
		}
		v := row.String(k)
		if v == "" {
			v = "-"
		}
		out = append(out, field{Key: k, Value: v})
	}
	return out
}

// sectionBase は "/orders/12/actions/x" のようなパスから一覧のパス "/orders" を返す。
func sectionBase(path string) string {
	if item, ok := navigation.Lookup(path); ok {
		return item.Path
	}
	return "/" + strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
}

// sectionPath はリソースの一覧画面のパスを返す。
func sectionPath(name string) string {
	if item, ok := navigation.ForResource(name); ok {
		return item.Path
	}
	return "/" + name
}

// safeReturn は戻り先が同一オリジン内のパスの場合のみ採用する。
func safeReturn(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}

// isSessionLost はセッションが失われたエラーかを返す。
func isSessionLost(err error) bool {
	return errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrNotAuthenticated)
}

func humanizeLower(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
