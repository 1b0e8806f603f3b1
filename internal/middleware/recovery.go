package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
)

// recoveryPage はHTML画面でpanicした場合に返す最小限のページ。
const recoveryPage = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Error</title></head>` +
	`<body><h1>Something went wrong</h1><p>Please try again. <a href="/dashboard">Back to dashboard</a></p></body></html>`

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// /api配下とJSONを要求するリクエストには統一エラーフォーマット、それ以外にはHTMLを返す。
// loggerがnilの場合はslog.Defaultを使う。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				// ロギングミドルウェアは内側にあるため、採番済みのIDはレスポンスヘッダーから読む
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("request_id", w.Header().Get(apiclient.RequestIDHeader)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				if wantsJSON(r) {
					WriteInternalServerError(w)
					return
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(recoveryPage))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wantsJSON はリクエストがJSONレスポンスを期待しているかを判定する。
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
