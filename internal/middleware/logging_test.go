package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/model"
)

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}

	// 必須フィールドの検証
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/orders" {
		t.Errorf("path = %q, want %q", entry["path"], "/orders")
	}
	if _, ok := entry["status"]; !ok {
		t.Error("expected 'status' field in log entry")
	}
	if status, ok := entry["status"].(float64); ok && status != 200 {
		t.Errorf("status = %v, want 200", status)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
}

// TestLoggingMiddleware_IncludesUser はログイン中ユーザーのメールアドレスとロールがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	ctx := ContextWithUser(req.Context(), &model.User{Email: "sales@example.com", Role: model.RoleSales})
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if entry["user_email"] != "sales@example.com" {
		t.Errorf("user_email = %q, want %q", entry["user_email"], "sales@example.com")
	}
	if entry["role"] != "sales" {
		t.Errorf("role = %q, want %q", entry["role"], "sales")
	}
}

// TestLoggingMiddleware_NoUser_OmitsField は未ログインの場合にユーザーのフィールドが出力されないことを検証する。
func TestLoggingMiddleware_NoUser_OmitsField(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if val, ok := entry["user_email"]; ok {
		t.Errorf("user_email should be omitted for unauthenticated request, got %q", val)
	}
}

// TestLoggingMiddleware_CapturesStatusCode はステータスコードが正しくキャプチャされることを検証する。
func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"400 Bad Request", http.StatusBadRequest},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON log: %v", err)
			}

			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
		})
	}
}

// fakeRequestRecorder はRecordConsoleRequestの呼び出しを記録する。
type fakeRequestRecorder struct {
	route  string
	status int
	calls  int
}

func (f *fakeRequestRecorder) RecordConsoleRequest(route string, statusCode int, _ time.Duration) {
	f.route, f.status = route, statusCode
	f.calls++
}

// decodeLog は1行のJSONログをデコードする。
func decodeLog(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_AssignsRequestID はリクエストIDを採番し、レスポンスヘッダーと
// バックエンド呼び出し用のコンテキストに設定することを検証する。
func TestLoggingMiddleware_AssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxID string
	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = apiclient.RequestIDFromContext(r.Context())
		w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))

	headerID := w.Header().Get(apiclient.RequestIDHeader)
	if _, err := uuid.Parse(headerID); err != nil {
		t.Fatalf("X-Request-ID = %q, want a UUID", headerID)
	}
	if ctxID != headerID {
		t.Errorf("context request id = %q, want %q", ctxID, headerID)
	}
	entry := decodeLog(t, &buf)
	if entry["request_id"] != headerID {
		t.Errorf("request_id = %v, want %q", entry["request_id"], headerID)
	}
	if entry["bytes"].(float64) != 5 {
		t.Errorf("bytes = %v, want 5", entry["bytes"])
	}
}

// TestLoggingMiddleware_KeepsIncomingRequestID はUUID形式の受信IDのみ引き継ぐことを検証する。
func TestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(apiclient.RequestIDHeader, incoming)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get(apiclient.RequestIDHeader); got != incoming {
		t.Errorf("X-Request-ID = %q, want %q", got, incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(apiclient.RequestIDHeader, "<script>")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get(apiclient.RequestIDHeader); got == "<script>" {
		t.Error("non-UUID request id should be replaced")
	}
}

// TestLoggingMiddleware_RecordsRoutePattern はchiのルートパターンでログとメトリクスを記録することを検証する。
func TestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &fakeRequestRecorder{}

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger, rec))
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/42", nil))

	if rec.calls != 1 || rec.route != "/orders/{id}" || rec.status != http.StatusAccepted {
		t.Errorf("recorder = %+v, want one call for /orders/{id} 202", rec)
	}
	entry := decodeLog(t, &buf)
	if entry["route"] != "/orders/{id}" || entry["path"] != "/orders/42" {
		t.Errorf("route = %v path = %v", entry["route"], entry["path"])
	}
}

// TestLoggingMiddleware_UnmatchedRoute はルートに一致しないリクエストを1つのラベルにまとめることを検証する。
func TestLoggingMiddleware_UnmatchedRoute(t *testing.T) {
	rec := &fakeRequestRecorder{}
	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), rec)(http.NotFoundHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/page", nil))

	if rec.route != routeUnmatched || rec.status != http.StatusNotFound {
		t.Errorf("recorder = %+v, want unmatched 404", rec)
	}
}

// TestLoggingMiddleware_UserFromInnerSessionMiddleware は内側のセッションミドルウェアが
// 判定したユーザーがログに出力されることを検証する。
func TestLoggingMiddleware_UserFromInnerSessionMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	users := &mockUserSource{user: &model.User{Email: "qa@example.com", Role: model.RoleQuality}}

	inner := NewSessionMiddleware(users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler := NewLoggingMiddleware(logger, nil)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/inspection", nil))

	entry := decodeLog(t, &buf)
	if entry["user_email"] != "qa@example.com" || entry["role"] != "quality" {
		t.Errorf("user fields = %v / %v", entry["user_email"], entry["role"])
	}
}
