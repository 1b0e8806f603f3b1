// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにログイン中ユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserSource はログイン中ユーザーを返す。session.Managerがこれを満たす。
type UserSource interface {
	CurrentUser() *model.User
}

// NewSessionMiddleware はセッション管理からログイン中ユーザーを読み取り、
// 画面ごとのアクセス判定を行うミドルウェアを返す。
// 未ログインはログイン画面へ、ロールが許可されない画面はダッシュボードへリダイレクトする。
// 許可されたリクエストにはユーザーをコンテキストに注入する。
func NewSessionMiddleware(src UserSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := src.CurrentUser()

			decision := navigation.Guard(user, r.URL.Path)
			if decision != navigation.Allow {
				attrs := []any{
					slog.String("path", r.URL.Path),
					slog.String("decision", decision.String()),
				}
				if user != nil {
					attrs = append(attrs, slog.String("role", string(user.Role)))
				}
				slog.Info("route guard redirect", attrs...)
				http.Redirect(w, r, decision.Target(), http.StatusSeeOther)
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.user = user
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストからログイン中ユーザーを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
