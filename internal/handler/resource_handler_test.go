package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/resource"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/table"
)

func orderRows(n, offset int) []table.Row {
	rows := make([]table.Row, n)
	for i := range rows {
		id := offset + i + 1
		rows[i] = table.Row{
			"id":            fmt.Sprint(id),
			"quote_number":  fmt.Sprintf("Q-%03d", id),
			"customer_name": "Acme",
			"status":        "confirmed",
		}
	}
	return rows
}

// --- GET /orders テスト ---

func TestList_RendersRowsAndPagerKeepingFilters(t *testing.T) {
	var gotFilters listing.Filters
	var gotPage int
	res := &mockResourceService{
		listFn: func(_ context.Context, name string, f listing.Filters, page int) (listing.Page[table.Row], error) {
			if name != resource.Orders {
				t.Errorf("name = %q, want %q", name, resource.Orders)
			}
			gotFilters, gotPage = f, page
			p := listing.NewPage(orderRows(20, 40), page, 9)
			p.Count, p.HasCount = 171, true
			return p, nil
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders?status=confirmed&bogus=1&search=&page=3", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Orders)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPage != 3 {
		t.Errorf("page = %d, want 3", gotPage)
	}
	if len(gotFilters) != 1 || gotFilters["status"] != "confirmed" {
		t.Errorf("filters = %v, want only status", gotFilters)
	}

	body := w.Body.String()
	for _, want := range []string{
		"Q-041",
		`href="/orders/41"`,
		`href="/orders?page=2&amp;status=confirmed"`,
		`href="/orders?page=4&amp;status=confirmed"`,
		`href="/orders?page=9&amp;status=confirmed"`,
		"Page 3 of 9",
		"171 records",
		`data-state="loaded"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
	// 省略されたページにはリンクしない
	if strings.Contains(body, "page=6&amp;") {
		t.Error("page 6 should be elided from the strip")
	}
}

func TestList_FirstPageLinkHasNoPageParam(t *testing.T) {
	res := &mockResourceService{
		listFn: func(_ context.Context, _ string, _ listing.Filters, page int) (listing.Page[table.Row], error) {
			return listing.NewPage(orderRows(1, 0), page, 2), nil
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders?page=2", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Orders)(w, req)

	if !strings.Contains(w.Body.String(), `<a href="/orders">Previous</a>`) {
		t.Error("previous link should point to the bare list path")
	}
}

func TestList_EmptyShowsEmptyMessage(t *testing.T) {
	c := newTestConsole(t, nil, nil)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Orders)(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "No orders found") {
		t.Error("empty message is not shown")
	}
	if !strings.Contains(body, `data-state="empty"`) {
		t.Error("view state should be empty")
	}
	if strings.Contains(body, `class="pager"`) {
		t.Error("pager should be hidden for a single page")
	}
}

func TestList_ErrorShownInline(t *testing.T) {
	res := &mockResourceService{
		listFn: func(context.Context, string, listing.Filters, int) (listing.Page[table.Row], error) {
			return listing.Page[table.Row]{}, model.NewStatusError(http.StatusForbidden, "You do not have permission to perform this action.", nil)
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Orders)(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "You do not have permission to perform this action.") {
		t.Error("error message is not shown")
	}
	if !strings.Contains(body, `data-state="error"`) {
		t.Error("view state should be error")
	}
}

func TestList_SessionExpiredRedirectsToLogin(t *testing.T) {
	res := &mockResourceService{
		listFn: func(context.Context, string, listing.Filters, int) (listing.Page[table.Row], error) {
			return listing.Page[table.Row]{}, session.ErrSessionExpired
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Orders)(w, req)

	if loc := w.Header().Get("Location"); w.Code != http.StatusSeeOther || loc != "/login" {
		t.Errorf("got %d %q, want 303 /login", w.Code, loc)
	}
}

func TestList_DispatchRowsOfferActionsAndDetail(t *testing.T) {
	res := &mockResourceService{
		listFn: func(_ context.Context, _ string, _ listing.Filters, page int) (listing.Page[table.Row], error) {
			return listing.NewPage([]table.Row{
				{"id": "7", "order_quote_number": "Q-007", "status": "packing"},
			}, page, 1), nil
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/logistics", nil), testAdmin)
	w := httptest.NewRecorder()
	c.List(resource.Dispatches)(w, req)

	body := w.Body.String()
	for _, want := range []string{
		`action="/logistics/7/actions/mark_packed"`,
		`name="total_packages"`,
		`type="number"`,
		`href="/logistics/7"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
	if strings.Contains(body, "/actions/start_packing") {
		t.Error("start_packing is not offered for a packing dispatch")
	}
}

// --- GET /orders/{id} テスト ---

func TestDetail_OrderShowsFieldsAndHistory(t *testing.T) {
	res := &mockResourceService{
		getFn: func(_ context.Context, name, id string) (table.Row, error) {
			return table.Row{"id": id, "quote_number": "Q-012", "status": "confirmed", "customer": map[string]any{"id": 1}}, nil
		},
		historyFn: func(_ context.Context, id string) ([]table.Row, error) {
			if id != "12" {
				t.Errorf("history id = %q, want 12", id)
			}
			return []table.Row{{"status": "confirmed", "notes": "PO received", "changed_by_name": "Asha"}}, nil
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/12", nil), testAdmin)
	req = withChiURLParams(req, "id", "12")
	w := httptest.NewRecorder()
	c.Detail(resource.Orders)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"Q-012", "Status history", "PO received", `action="/orders/12/actions/update_status"`, `href="/orders"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
	if strings.Contains(body, "<dt>Customer</dt>") {
		t.Error("nested values should not be listed as fields")
	}
}

func TestDetail_DispatchListsDocuments(t *testing.T) {
	res := &mockResourceService{
		getFn: func(_ context.Context, _, id string) (table.Row, error) {
			return table.Row{"id": id, "order_quote_number": "Q-001", "status": "dispatched"}, nil
		},
		documentsFn: func(context.Context, string) ([]model.DispatchDocument, error) {
			return []model.DispatchDocument{{ID: "31", DocumentType: "invoice", DocumentNumber: "INV-9"}}, nil
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/logistics/5", nil), testAdmin)
	req = withChiURLParams(req, "id", "5")
	w := httptest.NewRecorder()
	c.Detail(resource.Dispatches)(w, req)

	body := w.Body.String()
	for _, want := range []string{`href="/logistics/5/documents/31"`, "Invoice INV-9"} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
}

func TestDetail_NotFound(t *testing.T) {
	res := &mockResourceService{
		getFn: func(context.Context, string, string) (table.Row, error) {
			return nil, model.NewStatusError(http.StatusNotFound, "Not found.", nil)
		},
	}
	c := newTestConsole(t, nil, res)

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/orders/404", nil), "id", "404")
	w := httptest.NewRecorder()
	c.Detail(resource.Orders)(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- POST /orders/{id}/actions/{action} テスト ---

func TestAction_PerformsAndRedirectsToReturn(t *testing.T) {
	var got map[string]string
	res := &mockResourceService{
		performFn: func(_ context.Context, name, id, action string, fields map[string]string) (table.Row, error) {
			if name != resource.Orders || id != "12" || action != resource.ActionUpdateStatus {
				t.Errorf("Perform(%q, %q, %q)", name, id, action)
			}
			got = fields
			return table.Row{"id": id}, nil
		},
	}
	c := newTestConsole(t, nil, res)

	form := url.Values{
		"csrf_token": {"tok"},
		"return":     {"/orders?page=2"},
		"status":     {"confirmed"},
		"notes":      {"ok"},
	}
	req := withChiURLParams(postForm("/orders/12/actions/update_status", form), "id", "12", "action", "update_status")
	w := httptest.NewRecorder()
	c.Action(resource.Orders)(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/orders?page=2" {
		t.Errorf("Location = %q, want %q", loc, "/orders?page=2")
	}
	if len(got) != 2 || got["status"] != "confirmed" || got["notes"] != "ok" {
		t.Errorf("fields = %v, want status and notes only", got)
	}
	if f := flashOf(t, w); f == nil || f.Kind != "success" || f.Message != "Update status completed." {
		t.Errorf("flash = %+v", f)
	}
}

func TestAction_FailureFlashesServerMessage(t *testing.T) {
	res := &mockResourceService{
		performFn: func(context.Context, string, string, string, map[string]string) (table.Row, error) {
			return nil, model.NewStatusError(http.StatusBadRequest, "", map[string][]string{"status": {"Invalid transition."}})
		},
	}
	c := newTestConsole(t, nil, res)

	req := withChiURLParams(postForm("/orders/12/actions/update_status", url.Values{"status": {"draft"}}), "id", "12", "action", "update_status")
	w := httptest.NewRecorder()
	c.Action(resource.Orders)(w, req)

	if loc := w.Header().Get("Location"); loc != "/orders" {
		t.Errorf("Location = %q, want %q", loc, "/orders")
	}
	if f := flashOf(t, w); f == nil || f.Kind != "error" || f.Message != "status: Invalid transition." {
		t.Errorf("flash = %+v", f)
	}
}

func TestAction_SessionExpiredRedirectsToLogin(t *testing.T) {
	res := &mockResourceService{
		performFn: func(context.Context, string, string, string, map[string]string) (table.Row, error) {
			return nil, fmt.Errorf("%w: gone", session.ErrSessionExpired)
		},
	}
	c := newTestConsole(t, nil, res)

	req := withChiURLParams(postForm("/logistics/1/actions/dispatch", url.Values{}), "id", "1", "action", "dispatch")
	w := httptest.NewRecorder()
	c.Action(resource.Dispatches)(w, req)

	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}
}

func TestSafeReturn(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/orders?page=2", "/orders?page=2"},
		{"", "/fallback"},
		{"https://evil.example", "/fallback"},
		{"//evil.example/x", "/fallback"},
		{"/\\evil.example", "/fallback"},
		{"orders", "/fallback"},
	}
	for _, tt := range tests {
		if got := safeReturn(tt.target, "/fallback"); got != tt.want {
			t.Errorf("safeReturn(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	tests := map[string]int{"": 1, "0": 1, "-3": 1, "abc": 1, "4": 4}
	for in, want := range tests {
		if got := parsePage(in); got != want {
			t.Errorf("parsePage(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSectionBase(t *testing.T) {
	tests := map[string]string{
		"/orders/12/actions/update_status": "/orders",
		"/logistics/5/documents/1":         "/logistics",
		"/users/users":                     "/users",
		"/unknown/1":                       "/unknown",
	}
	for in, want := range tests {
		if got := sectionBase(in); got != want {
			t.Errorf("sectionBase(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- GET /orders/export テスト ---

func TestExport_CollectsAllPages(t *testing.T) {
	var pages []int
	res := &mockResourceService{
		listFn: func(_ context.Context, _ string, f listing.Filters, page int) (listing.Page[table.Row], error) {
			if f["status"] != "confirmed" {
				t.Errorf("filters = %v, want status kept", f)
			}
			pages = append(pages, page)
			return listing.NewPage(orderRows(20, (page-1)*20), page, 3), nil
		},
	}
	rec := &mockRecorder{}
	c, err := NewConsole(&mockSessionService{}, res, nil, rec, ConsoleConfig{}, discardLogger)
	if err != nil {
		t.Fatalf("NewConsole() error = %v", err)
	}

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/export?status=confirmed", nil), testAdmin)
	w := httptest.NewRecorder()
	c.Export(resource.Orders)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(pages) != 3 {
		t.Errorf("fetched pages = %v, want 1..3", pages)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="orders-`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	// xlsxはZIP形式
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Error("body is not an xlsx file")
	}
	if rec.exportFormat != "xlsx" || rec.exportRows != 60 {
		t.Errorf("recorded %q %d, want xlsx 60", rec.exportFormat, rec.exportRows)
	}
}

func TestExport_FetchErrorRendersErrorPage(t *testing.T) {
	res := &mockResourceService{
		listFn: func(context.Context, string, listing.Filters, int) (listing.Page[table.Row], error) {
			return listing.Page[table.Row]{}, model.NewNetworkError(errors.New("dial tcp: refused"))
		},
	}
	c := newTestConsole(t, nil, res)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/export", nil), testAdmin)
	w := httptest.NewRecorder()
	c.Export(resource.Orders)(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want html error page", ct)
	}
}
