// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role はバックエンドが割り当てるユーザーロール。
type Role string

// 定義済みロール
const (
	RoleAdmin       Role = "admin"
	RoleSales       Role = "sales"
	RoleEngineering Role = "engineering"
	RoleProduction  Role = "production"
	RoleQuality     Role = "quality"
	RoleLogistics   Role = "logistics"
	RoleManagement  Role = "management"
)

// Roles は全ロールを表示順に返す。
func Roles() []Role {
	return []Role{
		RoleAdmin, RoleSales, RoleEngineering, RoleProduction,
		RoleQuality, RoleLogistics, RoleManagement,
	}
}

// ParseRole は文字列をRoleに変換する。未知のロールの場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles() {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// ID はバックエンドのレコードID。
// 数値IDとUUID文字列の両方を受け付け、常に文字列として保持する。
type ID string

// UnmarshalJSON は数値・文字列どちらのJSON表現も受け付ける。
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// User はログイン中ユーザーのプロフィール。
// ログイン時または /accounts/users/me/ から取得し、ログアウトまでキャッシュする。
type User struct {
	ID          ID     `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FullName    string `json:"full_name,omitempty"`
	Role        Role   `json:"role"`
	RoleDisplay string `json:"role_display,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Department  string `json:"department,omitempty"`
	EmployeeID  string `json:"employee_id,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsAdmin     bool   `json:"is_admin"`
}

// DisplayName は画面表示用の名前を返す。
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Email
}

// HasAnyRole はユーザーが指定ロールのいずれかを持つかを返す。
// rolesが空の場合は全員を許可する。is_adminのユーザーは常に許可される。
func (u *User) HasAnyRole(roles ...Role) bool {
	if u == nil {
		return false
	}
	if len(roles) == 0 || u.IsAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// Clone はユーザーのコピーを返す。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
