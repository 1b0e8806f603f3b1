package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/session"
)

// stat はダッシュボードの1項目。
type stat struct {
	Key   string
	Value string
}

// dashboardView はダッシュボードの表示内容。
type dashboardView struct {
	Stats    []stat
	Sections []navigation.Item
	Error    string
}

// Dashboard は概要とロールに応じたメニューを表示する。
// 概要の取得に失敗してもメニューは表示する。
// GET /dashboard
func (c *Console) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	view := dashboardView{Sections: navigation.Visible(user)}

	overview, err := c.resources.Overview(r.Context())
	switch {
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrNotAuthenticated):
		c.handleError(w, r, err)
		return
	case err != nil:
		view.Error = model.MessageOf(err, "Failed to load dashboard overview.")
	default:
		view.Stats = flattenStats(overview)
	}

	c.renderer.Render(w, http.StatusOK, pageDashboard, c.page(w, r, navigation.Title(r.URL.Path), view))
}

// flattenStats は概要のマップを "orders.total" のようなキーに平坦化し、キー順に並べる。
func flattenStats(m map[string]any) []stat {
	var out []stat
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, child)
			}
		case []any:
			out = append(out, stat{Key: prefix, Value: fmt.Sprintf("%d items", len(t))})
		case nil:
			out = append(out, stat{Key: prefix, Value: "-"})
		case json.Number:
			out = append(out, stat{Key: prefix, Value: t.String()})
		default:
			out = append(out, stat{Key: prefix, Value: fmt.Sprint(t)})
		}
	}
	walk("", m)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
