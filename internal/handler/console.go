// Package handler はWebコンソールのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/resource"
	"github.com/hitoshi/mfgconsole/internal/session"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// SessionServiceInterface はコンソールが必要とするセッション操作。
// *session.Managerがこれを満たす。
type SessionServiceInterface interface {
	State() session.State
	CurrentUser() *model.User
	Login(ctx context.Context, identifier, secret string) session.LoginResult
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, patch map[string]any) (*model.User, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error
}

// ResourceServiceInterface はコンソールが必要とするリソース操作。
// *resource.Serviceがこれを満たす。
type ResourceServiceInterface interface {
	Definition(name string) (resource.Definition, error)
	List(ctx context.Context, name string, filters listing.Filters, page int) (listing.Page[table.Row], error)
	Get(ctx context.Context, name, id string) (table.Row, error)
	Perform(ctx context.Context, name, id, action string, fields map[string]string) (table.Row, error)
	OrderStatusHistory(ctx context.Context, id string) ([]table.Row, error)
	DispatchDocuments(ctx context.Context, id string) ([]model.DispatchDocument, error)
	Overview(ctx context.Context) (map[string]any, error)
}

// DocumentDownloader は出荷書類をダウンロードする。*documents.Downloaderがこれを満たす。
type DocumentDownloader interface {
	Download(ctx context.Context, doc model.DispatchDocument, w io.Writer) (int64, error)
}

// Recorder はエクスポート行数と書類ダウンロードを記録する。*metrics.Collectorがこれを満たす。
type Recorder interface {
	RecordExportRows(format string, rows int)
	RecordDocumentDownload(ok bool, bytes int64)
}

// ConsoleConfig はWebコンソールの設定。
type ConsoleConfig struct {
	CookieSecure bool
}

// Console はWebコンソールの画面ハンドラー。
type Console struct {
	session   SessionServiceInterface
	resources ResourceServiceInterface
	documents DocumentDownloader
	recorder  Recorder
	renderer  *Renderer
	config    ConsoleConfig
	logger    *slog.Logger
}

// NewConsole はConsoleを生成する。documentsとrecorderはnilでもよい。
func NewConsole(sess SessionServiceInterface, resources ResourceServiceInterface, documents DocumentDownloader,
	recorder Recorder, config ConsoleConfig, logger *slog.Logger) (*Console, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		session:   sess,
		resources: resources,
		documents: documents,
		recorder:  recorder,
		renderer:  renderer,
		config:    config,
		logger:    logger,
	}, nil
}

// page はレイアウト共通のデータを組み立てる。
func (c *Console) page(w http.ResponseWriter, r *http.Request, title string, content any) *pageData {
	user, _ := middleware.UserFromContext(r.Context())
	return &pageData{
		Title:     title,
		User:      user,
		Menu:      navigation.Visible(user),
		Active:    activePath(r.URL.Path),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Flash:     popFlash(w, r, c.config.CookieSecure),
		Content:   content,
	}
}

// activePath はメニューで強調表示する項目のパスを返す。
func activePath(path string) string {
	if item, ok := navigation.Lookup(path); ok {
		return item.Path
	}
	return ""
}

// errorView はエラー画面の表示内容。
type errorView struct {
	Heading string
	Message string
	Action  string
}

// handleError はバックエンド呼び出しの失敗を画面に反映する。
// セッションが失われた場合はログイン画面へ遷移する。
func (c *Console) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrNotAuthenticated) {
		setFlash(w, c.config.CookieSecure, "error", model.NewSessionExpiredError().Message)
		http.Redirect(w, r, navigation.PathLogin, http.StatusSeeOther)
		return
	}

	status := http.StatusInternalServerError
	view := errorView{Heading: "Something went wrong", Message: model.MessageOf(err, "An unexpected error occurred.")}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status = middleware.StatusForError(apiErr)
		view.Action = apiErr.Action
		if apiErr.Category == model.CategoryNotFound {
			view.Heading = "Not found"
		}
	}
	if status >= 500 {
		c.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	c.renderer.Render(w, status, pageError, c.page(w, r, view.Heading, view))
}

// NotFound は存在しない画面の404を返す。
func (c *Console) NotFound(w http.ResponseWriter, r *http.Request) {
	view := errorView{Heading: "Not found", Message: "The page you requested does not exist."}
	c.renderer.Render(w, http.StatusNotFound, pageError, c.page(w, r, view.Heading, view))
}

// redirectWithFlash はメッセージを設定してリダイレクトする。
func (c *Console) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, kind, message string) {
	setFlash(w, c.config.CookieSecure, kind, message)
	http.Redirect(w, r, target, http.StatusSeeOther)
}
