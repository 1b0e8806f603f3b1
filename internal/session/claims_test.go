package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-only-secret"))
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	return token
}

func TestInspectToken_ReadsClaimsWithoutVerification(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"token_type": "access",
		"user_id":    42,
		"role":       "quality",
		"exp":        exp.Unix(),
	})

	info, err := InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken がエラーを返した: %v", err)
	}
	if info.UserID != "42" {
		t.Errorf("UserID = %q, want 42", info.UserID)
	}
	if info.Role != "quality" || info.TokenType != "access" {
		t.Errorf("info = %+v", info)
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, exp)
	}
	if got := info.ExpiresIn(exp.Add(-time.Minute)); got != time.Minute {
		t.Errorf("ExpiresIn = %v, want 1m", got)
	}
	if got := info.ExpiresIn(exp.Add(time.Minute)); got != 0 {
		t.Errorf("期限切れのExpiresIn = %v, want 0", got)
	}
}

func TestInspectToken_Invalid(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := InspectToken(token); err == nil {
			t.Errorf("InspectToken(%q) はエラーになるべき", token)
		}
	}
}

func TestManager_TokenInfo_NotLoggedIn(t *testing.T) {
	m := NewManager(nil, nil, Options{})
	if _, err := m.TokenInfo(); err != ErrNotAuthenticated {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}
