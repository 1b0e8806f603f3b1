package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/navigation"
)

// loginView はログイン画面の表示内容。
type loginView struct {
	Email string
	Error string
}

// LoginForm はログイン画面を表示する。ログイン済みの場合はダッシュボードへ遷移する。
// GET /login
func (c *Console) LoginForm(w http.ResponseWriter, r *http.Request) {
	if c.session.CurrentUser() != nil {
		http.Redirect(w, r, navigation.PathDashboard, http.StatusSeeOther)
		return
	}
	c.renderer.Render(w, http.StatusOK, pageLogin, c.page(w, r, "Sign in", loginView{}))
}

// Login は資格情報でログインする。
// 成功時はダッシュボードへ遷移し、失敗時はサーバーのメッセージを表示する。
// POST /login
func (c *Console) Login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	result := c.session.Login(r.Context(), email, password)
	if !result.Success {
		c.logger.Info("console login failed", slog.String("email", email))
		view := loginView{Email: email, Error: result.Error}
		c.renderer.Render(w, http.StatusUnauthorized, pageLogin, c.page(w, r, "Sign in", view))
		return
	}

	c.logger.Info("console login succeeded",
		slog.String("email", result.User.Email),
		slog.String("role", string(result.User.Role)),
	)
	http.Redirect(w, r, navigation.PathDashboard, http.StatusSeeOther)
}

// Logout はログアウトしてログイン画面へ遷移する。
// サーバー側のログアウトに失敗してもローカルのセッションは破棄される。
// POST /logout
func (c *Console) Logout(w http.ResponseWriter, r *http.Request) {
	if err := c.session.Logout(r.Context()); err != nil {
		c.logger.Warn("logout failed", slog.String("error", err.Error()))
	}
	c.redirectWithFlash(w, r, navigation.PathLogin, "success", "You have been logged out.")
}
