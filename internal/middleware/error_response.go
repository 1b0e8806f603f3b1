package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/mfgconsole/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、バリデーションエラーの場合はフィールド別メッセージを含む。
type ErrorResponseBody struct {
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	Category    string              `json:"category"`
	Action      string              `json:"action"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:        apiErr.Code,
		Message:     apiErr.Message,
		Category:    apiErr.Category,
		Action:      apiErr.Action,
		FieldErrors: apiErr.FieldErrors,
	})
}

// WriteError はerrを統一エラーフォーマットで書き込む。
// *model.APIError以外のエラーは内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForError(apiErr), apiErr)
}

// StatusForError はAPIErrorをコンソール側のHTTPステータスに変換する。
// バックエンドのステータスがあればそれを使う。
func StatusForError(apiErr *model.APIError) int {
	if apiErr.Status > 0 {
		return apiErr.Status
	}
	switch apiErr.Category {
	case model.CategorySession, model.CategoryAuth:
		return http.StatusUnauthorized
	case model.CategoryNetwork:
		return http.StatusBadGateway
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryPermission:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
