package apiclient

import (
	"net/http"
	"testing"

	"github.com/hitoshi/mfgconsole/internal/model"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMessage string
		wantCode    string
		wantFields  map[string]string
	}{
		{
			name:        "detailキー",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"detail":"Packing can only be started from Pending status."}`,
			wantMessage: "Packing can only be started from Pending status.",
			wantCode:    model.ErrCodeValidation,
		},
		{
			name:        "messageキー",
			status:      http.StatusInternalServerError,
			contentType: "application/json",
			body:        `{"message":"database unavailable"}`,
			wantMessage: "database unavailable",
			wantCode:    model.ErrCodeServerError,
		},
		{
			name:        "フィールドエラー",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"email":["Enter a valid email address."],"non_field_errors":["Passwords do not match."]}`,
			wantMessage: "",
			wantCode:    model.ErrCodeValidation,
			wantFields: map[string]string{
				"email":            "Enter a valid email address.",
				"non_field_errors": "Passwords do not match.",
			},
		},
		{
			name:        "ネストしたフィールドエラー",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"items":{"0":["This field is required."]}}`,
			wantCode:    model.ErrCodeValidation,
			wantFields: map[string]string{
				"items": "0: This field is required.",
			},
		},
		{
			name:        "HTMLエラーページ",
			status:      http.StatusBadGateway,
			contentType: "text/html; charset=utf-8",
			body:        "<html><head><title>\n  502 Bad Gateway\n</title></head><body>nginx</body></html>",
			wantMessage: "502 Bad Gateway",
			wantCode:    model.ErrCodeServerError,
		},
		{
			name:        "空ボディ",
			status:      http.StatusNotFound,
			contentType: "application/json",
			body:        "",
			wantMessage: "",
			wantCode:    model.ErrCodeNotFound,
		},
		{
			name:        "JSON配列",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `["Order cannot be cancelled."]`,
			wantMessage: "Order cannot be cancelled.",
			wantCode:    model.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseError(tt.status, tt.contentType, []byte(tt.body))
			if got.Status != tt.status {
				t.Errorf("Status = %d, want %d", got.Status, tt.status)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			for field, want := range tt.wantFields {
				msgs := got.FieldErrors[field]
				if len(msgs) == 0 || msgs[0] != want {
					t.Errorf("FieldErrors[%q] = %v, want [%q]", field, msgs, want)
				}
			}
		})
	}
}

func TestMessageOf_FallsBackToGenericMessage(t *testing.T) {
	err := ParseError(http.StatusInternalServerError, "application/json", []byte(`{}`))
	if got := model.MessageOf(err, "An error occurred"); got != "An error occurred" {
		t.Errorf("MessageOf = %q, want fallback", got)
	}

	fieldErr := ParseError(http.StatusBadRequest, "application/json", []byte(`{"non_field_errors":["Unable to log in."]}`))
	if got := model.MessageOf(fieldErr, "fallback"); got != "Unable to log in." {
		t.Errorf("MessageOf = %q, want non_field_errors message", got)
	}
}
