package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/model"
)

// pathProfile はプロフィール画面のパス。
const pathProfile = "/profile"

// profileFields はプロフィール画面から更新できる項目。
var profileFields = []string{"first_name", "last_name", "phone", "department"}

// profileView はプロフィール画面の表示内容。
type profileView struct {
	User          *model.User
	ProfileError  string
	PasswordError string
}

// Profile はログイン中ユーザーのプロフィールを表示する。
// GET /profile
func (c *Console) Profile(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	c.renderProfile(w, r, http.StatusOK, profileView{User: user})
}

// UpdateProfile はプロフィールを部分更新する。
// 送信された項目のみを更新し、失敗時は入力画面にエラーを表示する。
// POST /profile
func (c *Console) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.redirectWithFlash(w, r, pathProfile, "error", "Invalid form submission.")
		return
	}
	patch := make(map[string]any)
	for _, f := range profileFields {
		if _, ok := r.PostForm[f]; ok {
			patch[f] = strings.TrimSpace(r.PostFormValue(f))
		}
	}
	if len(patch) == 0 {
		c.redirectWithFlash(w, r, pathProfile, "error", "Nothing to update.")
		return
	}

	if _, err := c.session.UpdateProfile(r.Context(), patch); err != nil {
		if isSessionLost(err) {
			c.handleError(w, r, err)
			return
		}
		c.logger.Warn("profile update failed", slog.String("error", err.Error()))
		user, _ := middleware.UserFromContext(r.Context())
		view := profileView{User: user, ProfileError: model.MessageOf(err, "Failed to update profile.")}
		c.renderProfile(w, r, model.StatusOf(err), view)
		return
	}
	c.redirectWithFlash(w, r, pathProfile, "success", "Profile updated.")
}

// ChangePassword はパスワードを変更する。確認用の入力が一致しない場合は送信しない。
// POST /profile/password
func (c *Console) ChangePassword(w http.ResponseWriter, r *http.Request) {
	oldPassword := r.PostFormValue("old_password")
	newPassword := r.PostFormValue("new_password")
	confirm := r.PostFormValue("new_password_confirm")
	user, _ := middleware.UserFromContext(r.Context())

	if newPassword == "" || newPassword != confirm {
		view := profileView{User: user, PasswordError: "New passwords do not match."}
		c.renderProfile(w, r, http.StatusBadRequest, view)
		return
	}

	if err := c.session.ChangePassword(r.Context(), oldPassword, newPassword, confirm); err != nil {
		if isSessionLost(err) {
			c.handleError(w, r, err)
			return
		}
		view := profileView{User: user, PasswordError: model.MessageOf(err, "Failed to change password.")}
		c.renderProfile(w, r, model.StatusOf(err), view)
		return
	}
	c.redirectWithFlash(w, r, pathProfile, "success", "Password changed.")
}

func (c *Console) renderProfile(w http.ResponseWriter, r *http.Request, status int, view profileView) {
	if status < 400 {
		status = http.StatusBadRequest
	}
	if view.ProfileError == "" && view.PasswordError == "" {
		status = http.StatusOK
	}
	c.renderer.Render(w, status, pageProfile, c.page(w, r, "Profile", view))
}
