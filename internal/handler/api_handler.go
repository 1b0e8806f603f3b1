package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// sessionResponse はGET /api/sessionのレスポンス。
type sessionResponse struct {
	State string      `json:"state"`
	User  *model.User `json:"user"`
}

// pageResponse はGET /api/resources/{name}のレスポンス。
// results以外はバックエンドの一覧からページ移動に必要な情報を導出したもの。
type pageResponse struct {
	Count      *int        `json:"count"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
	HasNext    bool        `json:"has_next"`
	HasPrev    bool        `json:"has_prev"`
	Pages      []string    `json:"pages"`
	Results    []table.Row `json:"results"`
}

// Session は現在のセッション状態を返す。未ログインの場合もuser=nullで200を返す。
// GET /api/session
func (c *Console) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		State: c.session.State().String(),
		User:  c.session.CurrentUser(),
	})
}

// ResourcePage はリソース一覧の1ページをJSONで返す。
// GET /api/resources/{name}?page=N
func (c *Console) ResourcePage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	user := c.session.CurrentUser()

	switch navigation.GuardResource(user, name) {
	case navigation.RedirectLogin:
		middleware.WriteError(w, model.NewNotLoggedInError())
		return
	case navigation.RedirectDashboard:
		middleware.WriteError(w, model.NewStatusError(http.StatusForbidden, "You do not have access to "+name+".", nil))
		return
	}

	def, err := c.resources.Definition(name)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	query := r.URL.Query()
	p, err := c.resources.List(r.Context(), name, filtersFrom(def, query), parsePage(query.Get("page")))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	resp := pageResponse{
		Page:       p.Page,
		TotalPages: p.TotalPages,
		HasNext:    p.HasNext,
		HasPrev:    p.HasPrev,
		Results:    p.Items,
	}
	if resp.Results == nil {
		resp.Results = []table.Row{}
	}
	if p.HasCount {
		resp.Count = &p.Count
	}
	for _, m := range listing.PagerOf(p).Strip() {
		resp.Pages = append(resp.Pages, m.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAPIError はバックエンド呼び出しの失敗をJSONで返す。
// セッションが失われた場合は401にそろえる。
func writeAPIError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionExpired) {
		middleware.WriteError(w, model.NewSessionExpiredError())
		return
	}
	if errors.Is(err, session.ErrNotAuthenticated) {
		middleware.WriteError(w, model.NewNotLoggedInError())
		return
	}
	middleware.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
