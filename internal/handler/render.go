package handler

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
)

//go:embed templates/*.html
var templateFS embed.FS

// 画面テンプレート名
const (
	pageLogin     = "login"
	pageDashboard = "dashboard"
	pageList      = "list"
	pageDetail    = "detail"
	pageProfile   = "profile"
	pageError     = "error"
)

var pageNames = []string{pageLogin, pageDashboard, pageList, pageDetail, pageProfile, pageError}

var templateFuncs = template.FuncMap{
	"label": humanize,
}

// Renderer は画面テンプレートを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は埋め込みテンプレートを読み込んでRendererを生成する。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render はレイアウトに画面を埋め込んで書き込む。
// 描画はバッファに行い、失敗した場合は500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data *pageData) {
	t, ok := r.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// pageData はレイアウトと各画面に渡すデータ。
type pageData struct {
	Title     string
	User      *model.User
	Menu      []navigation.Item
	Active    string
	CSRFToken string
	Flash     *flash
	Content   any
}

// pagerLink はページ番号ストリップの1要素。
type pagerLink struct {
	listing.Marker
	URL string
}

// pagerView は一覧下部のページ移動。
type pagerView struct {
	PrevURL string
	NextURL string
	Links   []pagerLink
	Page    int
	Total   int
}

// flashCookieName は次の画面に一度だけ表示するメッセージのCookie名。
const flashCookieName = "flash"

// flash は操作結果のメッセージ。KindはCSSクラスに使う（success, error）。
type flash struct {
	Kind    string
	Message string
}

// setFlash はリダイレクト先で表示するメッセージを設定する。
func setFlash(w http.ResponseWriter, secure bool, kind, message string) {
	value := base64.RawURLEncoding.EncodeToString([]byte(kind + "\n" + message))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash はメッセージを読み取り、Cookieを削除する。
func popFlash(w http.ResponseWriter, r *http.Request, secure bool) *flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(string(raw), "\n")
	if !ok || message == "" {
		return nil
	}
	return &flash{Kind: kind, Message: message}
}

// humanize は "ready_for_dispatch" を "Ready for dispatch" に変換する。
func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
