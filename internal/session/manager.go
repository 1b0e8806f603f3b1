// Package session はバックエンドとの認証セッション（アクセストークン、
// リフレッシュトークン、ログイン中ユーザー）を管理する。
//
// トークンの書き込みはManagerの操作（Initialize, Login, Logout, Do内のリフレッシュ）のみが行う。
// 画面やCLIコマンドはManagerを共有し、すべてのAPI呼び出しをDo経由で行う。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/tokenstore"
)

// バックエンドの認証エンドポイント
const (
	PathLogin          = "/accounts/login/"
	PathRefresh        = "/accounts/token/refresh/"
	PathLogout         = "/accounts/logout/"
	PathMe             = "/accounts/users/me/"
	PathUpdateProfile  = "/accounts/users/update_profile/"
	PathChangePassword = "/accounts/users/change_password/"
)

// GenericLoginError はサーバーがメッセージを返さなかった場合のログイン失敗メッセージ。
const GenericLoginError = "Login failed. Please check your credentials."

var (
	// ErrNotAuthenticated はログインしていない状態で認証付きAPIを呼び出した場合に返される。
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrSessionExpired はトークンのリフレッシュに失敗しセッションが失われた場合に返される。
	// 元の401エラーと合わせてラップされるため、errors.Asで*model.APIErrorも取り出せる。
	ErrSessionExpired = errors.New("session: session expired")
)

// Transport はバックエンドへリクエストを1回送信する。
// *apiclient.Clientがこれを満たす。
type Transport interface {
	Send(ctx context.Context, r *apiclient.Request, accessToken string) (*apiclient.Response, error)
}

// Navigator はセッション状態の変化に伴う画面遷移を行う。
// CLIでは案内メッセージの表示、Webコンソールではリダイレクトの指示になる。
type Navigator interface {
	ToLanding()
	ToLogin()
}

// Recorder はセッション関連のメトリクスを記録する。
type Recorder interface {
	RecordRefresh(outcome string)
	RecordSessionEvent(event string)
}

// リフレッシュ結果のラベル
const (
	RefreshSuccess   = "success"
	RefreshFailure   = "failure"
	RefreshCoalesced = "coalesced"
	RefreshSkipped   = "skipped"
)

// State はセッションの状態。
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event はオブザーバーに通知されるセッションイベント。
type Event string

const (
	EventAuthenticated  Event = "authenticated"
	EventLoggedOut      Event = "logged_out"
	EventSessionExpired Event = "session_expired"
	EventProfileUpdated Event = "profile_updated"
)

// Observer はセッションイベントを受け取る。userはイベント後のユーザー（ログアウト時はnil）。
type Observer func(event Event, user *model.User)

// LoginResult はLoginの結果。
type LoginResult struct {
	Success bool
	Error   string
	User    *model.User
}

// Options はManagerの任意の依存。
type Options struct {
	Navigator Navigator
	Recorder  Recorder
	Logger    *slog.Logger
}

// Manager はアプリケーションインスタンスごとに1つの認証済みIDを保持する。
type Manager struct {
	transport Transport
	store     tokenstore.Store
	nav       Navigator
	recorder  Recorder
	logger    *slog.Logger

	mu     sync.RWMutex
	tokens tokenstore.Tokens
	user   *model.User
	state  State

	refreshGroup singleflight.Group
	refreshing   atomic.Bool

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// NewManager はManagerを生成する。
func NewManager(transport Transport, store tokenstore.Store, opts Options) *Manager {
	m := &Manager{
		transport: transport,
		store:     store,
		nav:       opts.Navigator,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		observers: make(map[int]Observer),
	}
	if m.nav == nil {
		m.nav = NopNavigator{}
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

type nopRecorder struct{}

func (nopRecorder) RecordRefresh(string)      {}
func (nopRecorder) RecordSessionEvent(string) {}

// State は現在のセッション状態を返す。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Refreshing はトークンのリフレッシュ中であればtrueを返す。
func (m *Manager) Refreshing() bool {
	return m.refreshing.Load()
}

// CurrentUser はログイン中ユーザーのコピーを返す。未ログインの場合はnil。
func (m *Manager) CurrentUser() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.Clone()
}

// AccessToken は現在のアクセストークンを返す。
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.Access
}

// Subscribe はセッションイベントのオブザーバーを登録し、登録解除関数を返す。
func (m *Manager) Subscribe(obs Observer) (unsubscribe func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
	}
}

func (m *Manager) notify(event Event, user *model.User) {
	m.recorder.RecordSessionEvent(string(event))

	m.obsMu.Lock()
	obs := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		obs = append(obs, o)
	}
	m.obsMu.Unlock()

	for _, o := range obs {
		o(event, user.Clone())
	}
}

// Initialize は永続化されたトークンでセッションを復元する。
// アクセストークンがあれば /accounts/users/me/ でユーザーを取得し、成功すれば認証済みになる。
// 失敗した場合（理由を問わない）は両方のトークンを破棄して未ログインのまま返る。
// 失敗はエラーとして返さない。
func (m *Manager) Initialize(ctx context.Context) error {
	tokens, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			m.logger.Warn("failed to load persisted tokens",
				slog.String("error", err.Error()),
			)
			m.clearStore(ctx)
		}
		return nil
	}
	if tokens.Access == "" {
		m.clearStore(ctx)
		return nil
	}

	m.mu.Lock()
	m.tokens = tokens
	m.user = nil
	m.state = StateAuthenticating
	m.mu.Unlock()

	resp, err := m.Do(ctx, apiclient.NewRequest(http.MethodGet, PathMe, nil))
	var user model.User
	if err == nil {
		err = resp.Decode(&user)
	}
	if err != nil {
		m.logger.Info("session restore failed, continuing as anonymous",
			slog.String("error", err.Error()),
		)
		m.reset()
		m.clearStore(ctx)
		return nil
	}

	m.mu.Lock()
	if m.tokens.Access == "" {
		// 復元中にログアウトされた
		m.mu.Unlock()
		return nil
	}
	m.user = &user
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Info("session restored",
		slog.String("user_id", string(user.ID)),
		slog.String("role", string(user.Role)),
	)
	m.notify(EventAuthenticated, &user)
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	User    *model.User `json:"user"`
}

// Login は認証情報をバックエンドに送信してセッションを開始する。
// 成功時はトークンとユーザーを保存し、オブザーバーへ通知してランディングページへ遷移する。
// 失敗時は既存のセッションに手を付けず、表示用のメッセージを返す。
func (m *Manager) Login(ctx context.Context, identifier, secret string) LoginResult {
	m.mu.Lock()
	prev := m.state
	if prev == StateAuthenticating {
		m.mu.Unlock()
		return LoginResult{Error: "Login is already in progress."}
	}
	if prev == StateAnonymous {
		m.state = StateAuthenticating
	}
	m.mu.Unlock()

	fail := func(msg string) LoginResult {
		m.mu.Lock()
		if m.state == StateAuthenticating {
			m.state = prev
		}
		m.mu.Unlock()
		return LoginResult{Error: msg}
	}

	req := apiclient.NewRequest(http.MethodPost, PathLogin, loginRequest{Email: identifier, Password: secret})
	req.Anonymous = true

	resp, err := m.transport.Send(ctx, req, "")
	if err != nil {
		m.logger.Info("login failed",
			slog.String("email", identifier),
			slog.String("error", err.Error()),
		)
		return fail(model.MessageOf(err, GenericLoginError))
	}

	var body loginResponse
	if err := resp.Decode(&body); err != nil || body.Access == "" || body.User == nil {
		m.logger.Error("login response is malformed")
		return fail(GenericLoginError)
	}

	tokens := tokenstore.Tokens{Access: body.Access, Refresh: body.Refresh, UpdatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.tokens = tokens
	m.user = body.User
	m.state = StateAuthenticated
	m.mu.Unlock()

	if err := m.store.Save(ctx, tokens); err != nil {
		m.logger.Warn("failed to persist tokens",
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("login succeeded",
		slog.String("user_id", string(body.User.ID)),
		slog.String("role", string(body.User.Role)),
	)
	m.notify(EventAuthenticated, body.User)
	m.nav.ToLanding()

	return LoginResult{Success: true, User: body.User.Clone()}
}

// Logout はセッションを終了する。
// リフレッシュトークンがある場合のみサーバーへ無効化を通知し、その失敗は無視する。
// その後、トークンとユーザーを無条件に破棄してログイン画面へ遷移する。
// 未ログイン状態で呼び出してもネットワーク通信は行わない。
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	access, refresh := m.tokens.Access, m.tokens.Refresh
	m.mu.RUnlock()

	if refresh != "" {
		req := apiclient.NewRequest(http.MethodPost, PathLogout, map[string]string{"refresh": refresh})
		req.Anonymous = access == ""
		if _, err := m.transport.Send(ctx, req, access); err != nil {
			m.logger.Warn("server-side logout failed",
				slog.String("error", err.Error()),
			)
		}
	}

	m.reset()
	err := m.store.Clear(ctx)
	if err != nil {
		m.logger.Error("failed to clear persisted tokens",
			slog.String("error", err.Error()),
		)
	}

	m.notify(EventLoggedOut, nil)
	m.nav.ToLogin()

	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// Do は現在のアクセストークンを付与してリクエストを送信する。
//
// 401が返り、かつリクエストが未リトライの場合はトークンをリフレッシュし、
// 新しいトークンで1回だけ再送してその結果を返す。同時に発生したリフレッシュは1回にまとめられる。
// リフレッシュに失敗した場合はセッションを破棄してログイン画面へ遷移し、
// 元のエラーをErrSessionExpiredでラップして返す。
// リトライ済みのリクエストが再び401になった場合はリフレッシュせずにそのまま返す。
func (m *Manager) Do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error) {
	access := m.AccessToken()
	if access == "" && !req.Anonymous {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, model.NewNotLoggedInError())
	}

	resp, err := m.transport.Send(ctx, req, access)
	if err == nil || req.Anonymous || !model.IsUnauthorized(err) {
		return resp, err
	}
	if req.Retried {
		return nil, err
	}

	retry := *req
	retry.Retried = true

	newAccess, refreshErr := m.refresh(ctx, access)
	if refreshErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	return m.transport.Send(ctx, &retry, newAccess)
}

// Authorized はsendに現在のアクセストークンを渡して実行する。
// apiclientを通らない呼び出し（書類ファイルの取得など）に使い、Doと同じ規則で
// sendが401を返した場合は1回だけリフレッシュして新しいトークンで再実行する。
// sendは401をmodel.IsUnauthorizedで判定できるエラーとして返す必要がある。
func (m *Manager) Authorized(ctx context.Context, send func(accessToken string) error) error {
	access := m.AccessToken()
	if access == "" {
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, model.NewNotLoggedInError())
	}

	err := send(access)
	if err == nil || !model.IsUnauthorized(err) {
		return err
	}

	newAccess, refreshErr := m.refresh(ctx, access)
	if refreshErr != nil {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return send(newAccess)
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// refresh はusedで送信したリクエストが401になった後に新しいアクセストークンを取得する。
// 他のリクエストがすでにトークンを更新していれば、リフレッシュせずにそれを返す。
func (m *Manager) refresh(ctx context.Context, used string) (string, error) {
	m.mu.RLock()
	current, refreshToken := m.tokens.Access, m.tokens.Refresh
	m.mu.RUnlock()

	if current == "" {
		// 別のリクエストのリフレッシュ失敗、またはログアウトでセッションが破棄された
		m.recorder.RecordRefresh(RefreshSkipped)
		return "", ErrSessionExpired
	}
	if current != used {
		m.recorder.RecordRefresh(RefreshSkipped)
		return current, nil
	}
	if refreshToken == "" {
		m.logger.Info("access token rejected and no refresh token is available")
		m.expireIf(ctx, func(t tokenstore.Tokens) bool { return t.Access == used && t.Refresh == "" })
		return "", ErrSessionExpired
	}

	// 呼び出し元のキャンセルが同じリフレッシュを待つ他のリクエストに波及しないようにする
	v, err, shared := m.refreshGroup.Do(refreshToken, func() (interface{}, error) {
		// 直前に完了した別のリフレッシュが既に新しいトークンを保存している場合がある
		if latest := m.AccessToken(); latest != "" && latest != used {
			return latest, nil
		}
		return m.exchangeRefreshToken(context.WithoutCancel(ctx), refreshToken)
	})
	if shared {
		m.recorder.RecordRefresh(RefreshCoalesced)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	req := apiclient.NewRequest(http.MethodPost, PathRefresh, map[string]string{"refresh": refreshToken})
	req.Anonymous = true

	resp, err := m.transport.Send(ctx, req, "")
	var body refreshResponse
	if err == nil {
		err = resp.Decode(&body)
	}
	if err == nil && body.Access == "" {
		err = model.NewInvalidResponseError(errors.New("refresh response has no access token"))
	}
	if err != nil {
		m.recorder.RecordRefresh(RefreshFailure)
		m.logger.Warn("token refresh failed",
			slog.String("error", err.Error()),
		)
		if !m.expireIf(ctx, func(t tokenstore.Tokens) bool { return t.Refresh == refreshToken }) {
			// 失敗したのは置き換え済みのリフレッシュトークン。新しいセッションは残す
			m.logger.Info("stale refresh failed, keeping the current session")
			return "", ErrSessionExpired
		}
		return "", err
	}

	m.mu.Lock()
	if m.tokens.Refresh != refreshToken {
		// リフレッシュ中にログアウトまたは再ログインされた
		m.mu.Unlock()
		m.recorder.RecordRefresh(RefreshFailure)
		return "", ErrSessionExpired
	}
	m.tokens.Access = body.Access
	if body.Refresh != "" {
		m.tokens.Refresh = body.Refresh
	}
	m.tokens.UpdatedAt = time.Now().UTC()
	tokens := m.tokens
	m.mu.Unlock()

	if err := m.store.Save(ctx, tokens); err != nil {
		m.logger.Warn("failed to persist refreshed tokens",
			slog.String("error", err.Error()),
		)
	}

	m.recorder.RecordRefresh(RefreshSuccess)
	m.logger.Debug("access token refreshed",
		slog.Bool("rotated", body.Refresh != ""),
	)
	return body.Access, nil
}

// expireIf はリフレッシュ不能な認証エラーでセッションを破棄する。
// 判定と破棄は同じロックの中で行い、matchが現在のトークンに対してfalseを返した場合は
// 再ログイン等で置き換わったセッションとみなして何もしない。破棄した場合はtrueを返す。
// 認証済みだった場合のみ通知とログイン画面への遷移を行う。
func (m *Manager) expireIf(ctx context.Context, match func(tokenstore.Tokens) bool) bool {
	m.mu.Lock()
	if !match(m.tokens) {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.tokens = tokenstore.Tokens{}
	m.user = nil
	m.state = StateAnonymous
	m.mu.Unlock()

	m.clearStore(ctx)

	if prev == StateAuthenticated {
		m.logger.Info("session expired")
		m.notify(EventSessionExpired, nil)
		m.nav.ToLogin()
	}
	return true
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.tokens = tokenstore.Tokens{}
	m.user = nil
	m.state = StateAnonymous
	m.mu.Unlock()
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear persisted tokens",
			slog.String("error", err.Error()),
		)
	}
}

// UpdateProfile はプロフィールの部分更新を送信する。
// 成功時はレスポンスに含まれるフィールドのみを現在のユーザーへ上書きする（サーバーの値を優先）。
// 失敗時は現在のユーザーを変更せずにエラーを返す。
func (m *Manager) UpdateProfile(ctx context.Context, patch map[string]any) (*model.User, error) {
	resp, err := m.Do(ctx, apiclient.NewRequest(http.MethodPut, PathUpdateProfile, patch))
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := resp.Decode(&fields); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, model.NewNotLoggedInError())
	}
	merged, err := mergeUser(m.user, fields)
	if err != nil {
		m.mu.Unlock()
		return nil, model.NewInvalidResponseError(err)
	}
	m.user = merged
	m.mu.Unlock()

	m.notify(EventProfileUpdated, merged)
	return merged.Clone(), nil
}

// mergeUser はuserのJSON表現にfieldsを重ねた新しいUserを返す。
func mergeUser(user *model.User, fields map[string]json.RawMessage) (*model.User, error) {
	base, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	var current map[string]json.RawMessage
	if err := json.Unmarshal(base, &current); err != nil {
		return nil, err
	}
	for k, v := range fields {
		current[k] = v
	}
	overlaid, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	var merged model.User
	if err := json.Unmarshal(overlaid, &merged); err != nil {
		return nil, fmt.Errorf("failed to merge profile: %w", err)
	}
	return &merged, nil
}

type changePasswordRequest struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// ChangePassword はログイン中ユーザーのパスワードを変更する。
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	_, err := m.Do(ctx, apiclient.NewRequest(http.MethodPost, PathChangePassword, changePasswordRequest{
		OldPassword:        oldPassword,
		NewPassword:        newPassword,
		NewPasswordConfirm: confirm,
	}))
	return err
}
