package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"
)

// fakeBackend はCLIテスト用のバックエンドAPI。
type fakeBackend struct {
	*httptest.Server

	mu      sync.Mutex
	role    string
	calls   []string
	actions []map[string]any
}

const (
	fakeAccess  = "access-1"
	fakeRefresh = "refresh-1"
)

func newFakeBackend(t *testing.T, role string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{role: role}
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+fakeAccess {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("POST /api/v1/accounts/login/", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access": fakeAccess, "refresh": fakeRefresh, "user": b.user()})
	})
	mux.HandleFunc("POST /api/v1/accounts/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is blacklisted"})
	})
	mux.HandleFunc("POST /api/v1/accounts/logout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusResetContent)
	})
	mux.HandleFunc("GET /api/v1/accounts/users/me/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.user())
	}))
	mux.HandleFunc("GET /api/v1/crm/orders/", authed(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		rows := []map[string]any{
			{"id": 7, "quote_number": "Q-007", "customer_name": "Acme", "status": "confirmed"},
			{"id": 8, "quote_number": "Q-008", "customer_name": "Globex", "status": "enquiry"},
		}
		if page == "3" {
			rows = []map[string]any{{"id": 41, "quote_number": "Q-041", "customer_name": "Initech", "status": "delivered"}}
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": 41, "next": nil, "previous": nil, "results": rows})
	}))
	mux.HandleFunc("GET /api/v1/crm/orders/7/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "quote_number": "Q-007", "status": "confirmed", "customer": map[string]any{"id": 1}})
	}))
	mux.HandleFunc("GET /api/v1/crm/orders/7/status_history/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"status": "confirmed", "notes": "PO received", "changed_by_name": "Asha"}})
	}))
	mux.HandleFunc("POST /api/v1/crm/orders/7/update_status/", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.actions = append(b.actions, body)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "status": body["status"]})
	}))
	mux.HandleFunc("GET /api/v1/logistics/dispatches/3/documents/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "document_type": "invoice", "document_number": "INV-1", "file": "/media/dispatch/inv-1.pdf"},
		})
	}))
	mux.HandleFunc("GET /media/dispatch/inv-1.pdf", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 invoice"))
	}))

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls = append(b.calls, r.Method+" "+r.URL.Path)
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) user() map[string]any {
	return map[string]any{
		"id": 12, "email": "asha@example.com", "first_name": "Asha", "last_name": "Rao",
		"role": b.role, "department": "Sales", "is_active": true,
	}
}

func (b *fakeBackend) called(call string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c == call {
			return true
		}
	}
	return false
}

// setCLIEnv はCLIがファイルストアとフェイクバックエンドを使うように環境変数を設定する。
func setCLIEnv(t *testing.T, b *fakeBackend) string {
	t.Helper()
	setTestEnv(t)
	tokenFile := filepath.Join(t.TempDir(), "tokens.json")
	t.Setenv("API_BASE_URL", b.URL+"/api/v1")
	t.Setenv("TOKEN_STORE", "file")
	t.Setenv("TOKEN_FILE", tokenFile)
	t.Setenv("LOG_LEVEL", "error")
	return tokenFile
}

// runCLI はコマンドを実行して標準出力の内容を返す。
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	root := NewRootCommand(&out, &logs)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func login(t *testing.T) {
	t.Helper()
	if _, err := runCLI(t, "login", "--email", "asha@example.com", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestRun_WithInvalidConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("TOKEN_STORE", "carrier-pigeon")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"whoami"}); err == nil {
		t.Fatal("Run with invalid TOKEN_STORE should return error")
	}
}

func TestCLI_LoginPersistsTokens(t *testing.T) {
	b := newFakeBackend(t, "sales")
	tokenFile := setCLIEnv(t, b)

	out, err := runCLI(t, "login", "--email", "asha@example.com", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Logged in as Asha Rao (Sales)") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(tokenFile); err != nil {
		t.Errorf("token file not written: %v", err)
	}
}

func TestCLI_LoginWithWrongPassword(t *testing.T) {
	b := newFakeBackend(t, "sales")
	tokenFile := setCLIEnv(t, b)

	_, err := runCLI(t, "login", "--email", "asha@example.com", "--password", "nope")
	if err == nil || !strings.Contains(err.Error(), "No active account found") {
		t.Fatalf("err = %v, want the server message", err)
	}
	if _, statErr := os.Stat(tokenFile); !os.IsNotExist(statErr) {
		t.Error("failed login must not write tokens")
	}
}

func TestCLI_LoginPasswordFromStdin(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)

	var out bytes.Buffer
	root := NewRootCommand(&out, &bytes.Buffer{})
	root.SetIn(strings.NewReader("secret\n"))
	root.SetArgs([]string{"login", "--email", "asha@example.com", "--password-stdin"})
	if err := root.Execute(); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "Logged in as") {
		t.Errorf("output = %q", out.String())
	}
}

func TestCLI_LoginRequiresPassword(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)

	if _, err := runCLI(t, "login", "--email", "asha@example.com"); err == nil {
		t.Fatal("expected error without a password")
	}
	if b.called("POST /api/v1/accounts/login/") {
		t.Error("login must not be sent without a password")
	}
}

func TestCLI_WhoamiRestoresSession(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	for _, want := range []string{"asha@example.com", "Sections:", "Orders", "Customers"} {
		if !strings.Contains(out, want) {
			t.Errorf("whoami output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Users") {
		t.Errorf("sales user should not see the Users section:\n%s", out)
	}
	if !b.called("GET /api/v1/accounts/users/me/") {
		t.Error("whoami should restore the session via /accounts/users/me/")
	}
}

func TestCLI_WhoamiJSON(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "whoami", "--json")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	var got whoamiOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if got.State != "authenticated" || got.User == nil || got.User.Email != "asha@example.com" {
		t.Errorf("whoami = %+v", got)
	}
}

func TestCLI_WhoamiWithoutLogin(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)

	_, err := runCLI(t, "whoami")
	if err == nil {
		t.Fatal("expected error when not logged in")
	}
	if got := Describe(err); !strings.Contains(got, "not logged in") {
		t.Errorf("Describe() = %q", got)
	}
}

func TestCLI_LogoutClearsTokens(t *testing.T) {
	b := newFakeBackend(t, "sales")
	tokenFile := setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Signed out") {
		t.Errorf("output = %q", out)
	}
	if !b.called("POST /api/v1/accounts/logout/") {
		t.Error("logout should notify the backend")
	}
	if _, err := os.Stat(tokenFile); !os.IsNotExist(err) {
		t.Error("token file should be removed")
	}
}

func TestCLI_ListPrintsPage(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "list", "orders", "--page", "3", "--filter", "status=delivered")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"Q-041", "Initech", "Page 3 of 3 · 41 records", "Pages: 1 2 [3]"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_ListRejectsForbiddenResource(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	_, err := runCLI(t, "list", "materials")
	if err == nil {
		t.Fatal("sales user should not list materials")
	}
	if b.called("GET /api/v1/materials/materials/") {
		t.Error("forbidden list must not reach the backend")
	}
}

func TestCLI_ShowOrderIncludesHistory(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "show", "orders", "7")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"quote_number:", "Q-007", "Status history", "PO received"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "customer:") {
		t.Errorf("nested values should be omitted:\n%s", out)
	}
}

func TestCLI_ActionUpdatesStatus(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "action", "orders", "7", "update_status", "--field", "status=in_production", "--field", "notes=started")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if !strings.Contains(out, "Update Status completed for orders 7.") {
		t.Errorf("output = %q", out)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.actions) != 1 || b.actions[0]["status"] != "in_production" || b.actions[0]["notes"] != "started" {
		t.Errorf("action body = %v", b.actions)
	}
}

func TestCLI_ExportXLSX(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	path := filepath.Join(t.TempDir(), "orders.xlsx")
	out, err := runCLI(t, "export", "orders", "-o", path, "--max-pages", "1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "Exported 2 rows") {
		t.Errorf("output = %q", out)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "Q-007" {
		t.Errorf("rows = %v, want header plus 2 orders", rows)
	}
}

func TestCLI_ExportTextToStdout(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "export", "orders", "--format", "text", "--max-pages", "1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "Q-008") {
		t.Errorf("output = %q", out)
	}
}

func TestCLI_DocsSavesFiles(t *testing.T) {
	b := newFakeBackend(t, "logistics")
	setCLIEnv(t, b)
	login(t)

	dir := t.TempDir()
	out, err := runCLI(t, "docs", "3", "--dir", dir)
	if err != nil {
		t.Fatalf("docs: %v", err)
	}
	if !strings.Contains(out, "saved") {
		t.Errorf("output = %q", out)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir = %v, %v; want 1 file", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4 invoice" {
		t.Errorf("file content = %q", data)
	}
}

func TestCLI_ResourcesShowsAccess(t *testing.T) {
	b := newFakeBackend(t, "sales")
	setCLIEnv(t, b)
	login(t)

	out, err := runCLI(t, "resources")
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "orders", "customers":
			if !strings.Contains(line, "yes") {
				t.Errorf("%s should be accessible: %q", fields[0], line)
			}
		case "users", "materials":
			if !strings.Contains(line, " no ") && !strings.HasSuffix(strings.TrimSpace(line), "no") {
				t.Errorf("%s should not be accessible: %q", fields[0], line)
			}
		}
	}
}
