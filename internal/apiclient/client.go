// Package apiclient は製造管理バックエンドREST APIの低レベルHTTPクライアントを提供する。
// 認証トークンの付与以外の共通処理（URL組み立て、JSONエンコード、
// リクエストID付与、レート制限、エラーペイロード解析）を担当する。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mfgconsole/internal/model"
)

const (
	// defaultUserAgent はリクエストに付与するUser-Agent。
	defaultUserAgent = "mfgconsole/1.0"
	// maxResponseSize はレスポンスボディの最大読み取りサイズ（10MB）。
	maxResponseSize = 10 << 20
	// RequestIDHeader はリクエスト追跡用のヘッダー名。
	RequestIDHeader = "X-Request-ID"
)

type requestIDKey struct{}

// ContextWithRequestID はctxにリクエストIDを設定する。
// Webコンソールの1リクエストから発生したAPI呼び出しは同じIDで送信される。
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext はctxのリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Request はバックエンドへの1回のAPI呼び出しを表す。
// 同じRequestは401時のリトライで再送されるため、Bodyは再エンコード可能な値を渡すこと。
type Request struct {
	Method string
	Path   string // ベースURLからの相対パス（例: "/crm/orders/"）
	Query  url.Values
	Body   any // nil以外の場合はJSONとして送信する
	Header http.Header

	// Anonymous はBearerトークンを付与しないリクエスト（ログイン、トークン更新）。
	Anonymous bool

	// Retried は401からのリフレッシュ後に再送済みであることを示す。
	// 無限リトライを防ぐため、セッションマネージャーのみが設定する。
	Retried bool
}

// NewRequest はRequestを生成する。
func NewRequest(method, path string, body any) *Request {
	return &Request{Method: method, Path: path, Body: body}
}

// Response はバックエンドからの成功レスポンス（2xx）。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode はレスポンスボディをJSONとしてvにデコードする。
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return model.NewInvalidResponseError(fmt.Errorf("empty response body"))
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return model.NewInvalidResponseError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// Recorder はAPI呼び出しのメトリクスを記録するインターフェース。
type Recorder interface {
	RecordRequest(method string, statusCode int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, int, time.Duration) {}

// Config はClientの設定。
type Config struct {
	BaseURL   string
	UserAgent string
	// RateLimit はバックエンドへの最大リクエスト数（req/sec）。0以下は無制限。
	RateLimit float64
	RateBurst int
}

// Client はバックエンドREST APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    *url.URL
	userAgent  string
	limiter    *rate.Limiter
	recorder   Recorder
	newID      func() string // テスト用にリクエストID生成を差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL scheme: %q", base.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		recorder:   nopRecorder{},
		newID:      func() string { return uuid.NewString() },
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// SetRecorder はメトリクスレコーダーを設定する。
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// BaseURL はAPIのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Send はリクエストを送信する。accessTokenが空でなく、Anonymousでない場合は
// Bearerトークンとして付与する。
// 2xx以外のレスポンスは*model.APIErrorとして返す。通信エラーも*model.APIError
// （CategoryNetwork）として返す。リトライは行わない。
func (c *Client) Send(ctx context.Context, r *Request, accessToken string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewNetworkError(err)
		}
	}

	req, err := c.buildHTTPRequest(ctx, r, accessToken)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordRequest(r.Method, 0, time.Since(start))
		c.logger.Error("API request failed",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.String("request_id", req.Header.Get(RequestIDHeader)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	duration := time.Since(start)
	c.recorder.RecordRequest(r.Method, resp.StatusCode, duration)
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.Debug("API request completed",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", req.Header.Get(RequestIDHeader)),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseError(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// ResolveURL はベースURLからの相対パスを絶対URLに変換する。
func (c *Client) ResolveURL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// buildHTTPRequest はRequestからhttp.Requestを組み立てる。
func (c *Client) buildHTTPRequest(ctx context.Context, r *Request, accessToken string) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		buf, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ResolveURL(r.Path, r.Query), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if req.Header.Get(RequestIDHeader) == "" {
		id, ok := RequestIDFromContext(ctx)
		if !ok {
			id = c.newID()
		}
		req.Header.Set(RequestIDHeader, id)
	}
	if accessToken != "" && !r.Anonymous {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return req, nil
}
