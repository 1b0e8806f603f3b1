// Package documents は出荷書類（請求書、梱包明細など）のダウンロードを提供する。
// バックエンドと同一オリジンのファイルはアクセストークン付きで取得し、
// 外部ホストを指すURLはSSRF検証を通過した場合のみSSRF防止クライアントで取得する。
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/security"
)

// 既定値
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxSize        = 20 * 1024 * 1024
	DefaultMaxConcurrency = 4
)

// ErrTooLarge はファイルが上限サイズを超えた場合のエラー。
var ErrTooLarge = errors.New("document exceeds maximum size")

// URLGuard は外部ホストの書類URLを検証し、SSRF防止クライアントを提供する。
// *security.DocumentGuardがこれを満たす。
type URLGuard interface {
	Check(rawURL string) error
	Client() *http.Client
}

// Authorizer はアクセストークンを使う呼び出しを実行する。
// sendが401を返した場合はトークンをリフレッシュして1回だけ再実行する。
// *session.Managerがこれを満たす。
type Authorizer interface {
	Authorized(ctx context.Context, send func(accessToken string) error) error
}

// Config はDownloaderの設定。
type Config struct {
	// BaseURL はバックエンドAPIのURL。同一オリジンのファイルは信頼済みとして扱う。
	BaseURL        string
	Timeout        time.Duration
	MaxSize        int64
	MaxConcurrency int
	UserAgent      string
}

// Downloader は出荷書類をダウンロードする。
type Downloader struct {
	origin         *url.URL
	backendClient  *http.Client
	safeClient     *http.Client
	guard          URLGuard
	auth           Authorizer
	logger         *slog.Logger
	maxSize        int64
	maxConcurrency int
	userAgent      string
}

// NewDownloader はDownloaderを生成する。
// authがnilの場合、バックエンドのファイルもトークンなしで取得する。
func NewDownloader(cfg Config, guard URLGuard, auth Authorizer, logger *slog.Logger) (*Downloader, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mfgconsole/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		origin:         &url.URL{Scheme: base.Scheme, Host: base.Host},
		backendClient:  &http.Client{Timeout: cfg.Timeout},
		safeClient:     guard.Client(),
		guard:          guard,
		auth:           auth,
		logger:         logger,
		maxSize:        cfg.MaxSize,
		maxConcurrency: cfg.MaxConcurrency,
		userAgent:      cfg.UserAgent,
	}, nil
}

// Resolve は書類のファイルURLを絶対URLにする。
// 相対パスはバックエンドのオリジンを基準に解決する。
// trustedはURLがバックエンドと同一オリジンの場合にtrue。
func (d *Downloader) Resolve(fileURL string) (u *url.URL, trusted bool, err error) {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return nil, false, errors.New("document has no file URL")
	}
	ref, err := url.Parse(fileURL)
	if err != nil {
		return nil, false, fmt.Errorf("invalid document URL: %w", err)
	}
	u = d.origin.ResolveReference(ref)
	trusted = strings.EqualFold(u.Scheme, d.origin.Scheme) && strings.EqualFold(u.Host, d.origin.Host)
	return u, trusted, nil
}

// Download は書類をwへ書き出し、書き込んだバイト数を返す。
// バックエンドのファイルはセッションのトークンで取得し、401の場合はリフレッシュ後に1回だけ再取得する。
// 外部ホストのファイルは検証を通過した場合のみトークンなしで取得する。
func (d *Downloader) Download(ctx context.Context, doc model.DispatchDocument, w io.Writer) (int64, error) {
	u, trusted, err := d.Resolve(doc.File)
	if err != nil {
		return 0, err
	}

	if !trusted {
		if err := d.guard.Check(u.String()); err != nil {
			d.logger.Warn("書類URLの検証に失敗しました",
				slog.String("document_id", string(doc.ID)),
				slog.String("url", u.String()),
				slog.String("error", err.Error()),
			)
			return 0, err
		}
		resp, err := d.get(ctx, d.safeClient, u, "")
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return d.copyBody(w, resp)
	}

	if d.auth == nil {
		resp, err := d.get(ctx, d.backendClient, u, "")
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return d.copyBody(w, resp)
	}

	var resp *http.Response
	err = d.auth.Authorized(ctx, func(token string) error {
		r, err := d.get(ctx, d.backendClient, u, token)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return d.copyBody(w, resp)
}

// get はファイルをGETする。2xx以外はステータス付きのエラーとして本文を閉じて返す。
func (d *Downloader) get(ctx context.Context, client *http.Client, u *url.URL, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build document request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrResponseTooLarge):
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		case errors.Is(err, security.ErrDocumentURLRejected):
			return nil, err
		}
		return nil, model.NewNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, model.NewStatusError(resp.StatusCode, fmt.Sprintf("document download failed: %s", resp.Status), nil)
	}
	return resp, nil
}

// copyBody は上限サイズまでレスポンス本文をwへ書き出す。
func (d *Downloader) copyBody(w io.Writer, resp *http.Response) (int64, error) {
	if resp.ContentLength > d.maxSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, d.maxSize+1))
	if errors.Is(err, security.ErrResponseTooLarge) {
		return n, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, d.maxSize)
	}
	if err != nil {
		return n, fmt.Errorf("failed to read document: %w", err)
	}
	if n > d.maxSize {
		return n, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, d.maxSize)
	}
	return n, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName は保存時のファイル名を返す。
// URLの末尾要素を使い、無い場合は種別とIDから作る。
func FileName(doc model.DispatchDocument) string {
	name := ""
	if u, err := url.Parse(doc.File); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = fmt.Sprintf("%s-%s", doc.DocumentType, doc.ID)
	}
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "document"
	}
	return name
}

// Save は書類をdirに保存し、保存先のパスを返す。
// 書き込みに失敗した場合、途中まで書いたファイルは削除する。
func (d *Downloader) Save(ctx context.Context, doc model.DispatchDocument, dir string) (string, error) {
	dest, err := d.saveAs(ctx, doc, dir, FileName(doc))
	if err != nil {
		return "", err
	}
	d.logger.Info("書類を保存しました",
		slog.String("document_id", string(doc.ID)),
		slog.String("path", dest),
	)
	return dest, nil
}

// Result はSaveAllの1件分の結果。
type Result struct {
	Document model.DispatchDocument
	Path     string
	Err      error
}

// SaveAll は複数の書類を並列に保存する。結果はdocsと同じ順序で返す。
// 並列数はMaxConcurrencyで制限する。
func (d *Downloader) SaveAll(ctx context.Context, docs []model.DispatchDocument, dir string) []Result {
	results := make([]Result, len(docs))
	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup

	// 同名ファイルの上書きを避けるため、重複するファイル名にはIDを付ける
	seen := make(map[string]int)
	names := make([]string, len(docs))
	for i, doc := range docs {
		name := FileName(doc)
		if seen[name] > 0 {
			name = fmt.Sprintf("%s-%s", doc.ID, name)
		}
		seen[name]++
		names[i] = name
	}

	for i, doc := range docs {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, doc model.DispatchDocument) {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := d.saveAs(ctx, doc, dir, names[i])
			results[i] = Result{Document: doc, Path: p, Err: err}
			if err != nil {
				d.logger.Error("書類のダウンロードに失敗しました",
					slog.String("document_id", string(doc.ID)),
					slog.String("error", err.Error()),
				)
			}
		}(i, doc)
	}
	wg.Wait()
	return results
}

func (d *Downloader) saveAs(ctx context.Context, doc model.DispatchDocument, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	_, err = d.Download(ctx, doc, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}
