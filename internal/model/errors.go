package model

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategorySession    = "session"
	CategoryValidation = "validation"
	CategoryPermission = "permission"
	CategoryNotFound   = "not_found"
	CategoryServer     = "server"
	CategoryNetwork    = "network"
)

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeServerError     = "SERVER_ERROR"
	ErrCodeUnexpected      = "UNEXPECTED_STATUS"
	ErrCodeNetwork         = "NETWORK_ERROR"
	ErrCodeSessionExpired  = "SESSION_EXPIRED"
	ErrCodeNotLoggedIn     = "NOT_LOGGED_IN"
	ErrCodeInvalidResponse = "INVALID_RESPONSE"
)

// APIError はバックエンド呼び出しの失敗を表す統一エラー。
// 画面に表示するメッセージ、原因カテゴリ、対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // サーバーのエラーペイロード由来のメッセージ（無い場合は空）
	Category string // カテゴリ: auth, session, validation, permission, not_found, server, network
	Action   string // ユーザー向け対処方法
	Status   int    // HTTPステータス（通信エラーの場合は0）

	// FieldErrors はフィールド単位のバリデーションエラー。
	FieldErrors map[string][]string

	// Err は通信エラーなどの原因エラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("[%s] %d %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// FirstFieldError はフィールドエラーのうち、フィールド名順で最初のメッセージを返す。
func (e *APIError) FirstFieldError() (field, message string, ok bool) {
	if len(e.FieldErrors) == 0 {
		return "", "", false
	}
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if msgs := e.FieldErrors[f]; len(msgs) > 0 {
			return f, msgs[0], true
		}
	}
	return "", "", false
}

// NewStatusError はHTTPステータスに応じたAPIErrorを生成する。
// messageはサーバーのエラーペイロードから抽出したもの（空でもよい）。
func NewStatusError(status int, message string, fieldErrors map[string][]string) *APIError {
	e := &APIError{
		Message:     message,
		Status:      status,
		FieldErrors: fieldErrors,
	}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = ErrCodeUnauthorized
		e.Category = CategoryAuth
		e.Action = "ログインし直してください。"
	case status == http.StatusForbidden:
		e.Code = ErrCodeForbidden
		e.Category = CategoryPermission
		e.Action = "この操作を行う権限がありません。管理者に確認してください。"
	case status == http.StatusNotFound:
		e.Code = ErrCodeNotFound
		e.Category = CategoryNotFound
		e.Action = "指定したIDを確認してください。"
	case status == http.StatusTooManyRequests:
		e.Code = ErrCodeRateLimited
		e.Category = CategoryServer
		e.Action = "しばらく待ってから再度お試しください。"
	case status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		e.Code = ErrCodeValidation
		e.Category = CategoryValidation
		e.Action = "入力内容を確認してください。"
	case status >= 500:
		e.Code = ErrCodeServerError
		e.Category = CategoryServer
		e.Action = "しばらく待ってから再度お試しください。"
	default:
		e.Code = ErrCodeUnexpected
		e.Category = CategoryServer
		e.Action = "しばらく待ってから再度お試しください。"
	}
	return e
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Category: CategoryNetwork,
		Action:   "ネットワーク接続を確認し、再度お試しください。",
		Err:      err,
	}
}

// NewInvalidResponseError はレスポンスの解析失敗エラーを生成する。
func NewInvalidResponseError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResponse,
		Category: CategoryServer,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewSessionExpiredError はセッション失効エラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "Your session has expired. Please log in again.",
		Category: CategorySession,
		Action:   "ログインし直してください。",
	}
}

// NewNotLoggedInError は未ログイン状態での操作エラーを生成する。
func NewNotLoggedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLoggedIn,
		Message:  "You are not logged in.",
		Category: CategorySession,
		Action:   "mfgconsole login でログインしてください。",
	}
}

// IsUnauthorized はerrがHTTP 401相当のAPIErrorかを返す。
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// StatusOf はerrに含まれるHTTPステータスを返す。APIErrorでない場合は0。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf は画面に表示するメッセージを返す。
// サーバーのエラーペイロードにメッセージがあればそれをそのまま使い、
// 無ければfallbackを返す。
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return fallback
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	if field, msg, ok := apiErr.FirstFieldError(); ok {
		if field == "non_field_errors" {
			return msg
		}
		return field + ": " + msg
	}
	return fallback
}
