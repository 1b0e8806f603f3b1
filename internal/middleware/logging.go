package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/model"
)

// routeUnmatched はどのルートにも一致しなかったリクエストのラベル。
const routeUnmatched = "unmatched"

// RequestRecorder は画面リクエストのメトリクスを記録する。*metrics.Collectorがこれを満たす。
type RequestRecorder interface {
	RecordConsoleRequest(route string, statusCode int, duration time.Duration)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// requestInfo は内側のミドルウェアが判明した情報をログへ渡すための入れ物。
type requestInfo struct {
	user *model.User
}

var requestInfoKey = contextKey("request_info")

// requestID は受け取ったX-Request-IDがUUIDであればそれを使い、そうでなければ新しく採番する。
func requestID(r *http.Request) string {
	if id := r.Header.Get(apiclient.RequestIDHeader); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
//
// リクエストごとにIDを割り当ててレスポンスヘッダーとコンテキストに設定する。
// 同じリクエスト内のバックエンド呼び出しは同じIDで送信されるため、ログを突き合わせられる。
// ログにはrequest_id、method、path、route、status、bytes、duration_ms、
// ログイン中であればuser_emailとroleを含む。recorderがnilでなければメトリクスも記録する。
func NewLoggingMiddleware(logger *slog.Logger, recorder RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(apiclient.RequestIDHeader, id)

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			info := &requestInfo{}
			ctx := apiclient.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(context.WithValue(ctx, requestInfoKey, info))

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			route := routeUnmatched
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			if recorder != nil {
				recorder.RecordConsoleRequest(route, rec.statusCode, duration)
			}

			args := []any{
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
			}
			u := info.user
			if u == nil {
				u, _ = UserFromContext(r.Context())
			}
			if u != nil {
				args = append(args,
					slog.String("user_email", u.Email),
					slog.String("role", string(u.Role)),
				)
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
