package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims はバックエンドが発行するアクセストークンのクレーム。
type accessClaims struct {
	TokenType string `json:"token_type"`
	UserID    any    `json:"user_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo はアクセストークンから読み取った表示用の情報。
// 署名は検証しない（検証はバックエンドが行う）。
type TokenInfo struct {
	TokenType string
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn はnowから見た残り有効期間を返す。期限切れの場合は0。
func (t TokenInfo) ExpiresIn(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() || !now.Before(t.ExpiresAt) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// InspectToken は署名を検証せずにJWTのクレームを読み取る。
func InspectToken(token string) (TokenInfo, error) {
	if token == "" {
		return TokenInfo{}, errors.New("token is empty")
	}
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("failed to parse token: %w", err)
	}

	info := TokenInfo{
		TokenType: claims.TokenType,
		Role:      claims.Role,
	}
	switch v := claims.UserID.(type) {
	case string:
		info.UserID = v
	case float64:
		info.UserID = fmt.Sprintf("%.0f", v)
	}
	if info.UserID == "" {
		info.UserID = claims.Subject
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// TokenInfo は現在のアクセストークンの情報を返す。
func (m *Manager) TokenInfo() (TokenInfo, error) {
	access := m.AccessToken()
	if access == "" {
		return TokenInfo{}, ErrNotAuthenticated
	}
	return InspectToken(access)
}
