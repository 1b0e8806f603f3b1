// Package navigation はロールに応じたメニュー項目と画面アクセスの判定を提供する。
package navigation

import (
	"strings"

	"github.com/hitoshi/mfgconsole/internal/model"
)

// 画面のパス
const (
	PathLogin      = "/login"
	PathDashboard  = "/dashboard"
	PathOrders     = "/orders"
	PathCustomers  = "/customers"
	PathMaterials  = "/materials"
	PathProduction = "/production"
	PathInspection = "/inspection"
	PathLogistics  = "/logistics"
	PathUsers      = "/users"
)

// Item はメニュー項目。Rolesが空の項目は全ユーザーに表示される。
type Item struct {
	Name     string
	Path     string
	Resource string
	Roles    []model.Role
}

// Allows はユーザーがこの項目にアクセスできるかを返す。
func (i Item) Allows(u *model.User) bool {
	return u.HasAnyRole(i.Roles...)
}

var menu = []Item{
	{Name: "Dashboard", Path: PathDashboard},
	{Name: "Orders", Path: PathOrders, Resource: "orders"},
	{Name: "Customers", Path: PathCustomers, Resource: "customers", Roles: []model.Role{model.RoleAdmin, model.RoleSales}},
	{Name: "Materials", Path: PathMaterials, Resource: "materials", Roles: []model.Role{model.RoleAdmin, model.RoleProduction, model.RoleEngineering}},
	{Name: "Production", Path: PathProduction, Resource: "production", Roles: []model.Role{model.RoleAdmin, model.RoleProduction}},
	{Name: "Inspection", Path: PathInspection, Resource: "inspections", Roles: []model.Role{model.RoleAdmin, model.RoleQuality}},
	{Name: "Logistics", Path: PathLogistics, Resource: "dispatches", Roles: []model.Role{model.RoleAdmin, model.RoleLogistics}},
	{Name: "Users", Path: PathUsers, Resource: "users", Roles: []model.Role{model.RoleAdmin}},
}

// Menu は全メニュー項目を表示順に返す。
func Menu() []Item {
	out := make([]Item, len(menu))
	copy(out, menu)
	return out
}

// Visible はユーザーに表示するメニュー項目を返す。未ログインの場合は空。
func Visible(u *model.User) []Item {
	if u == nil {
		return nil
	}
	var out []Item
	for _, item := range menu {
		if item.Allows(u) {
			out = append(out, item)
		}
	}
	return out
}

// Lookup はパスが属するメニュー項目を返す。"/orders/12" は Orders に一致する。
func Lookup(path string) (Item, bool) {
	for _, item := range menu {
		if path == item.Path || strings.HasPrefix(path, item.Path+"/") {
			return item, true
		}
	}
	return Item{}, false
}

// ForResource はリソース名に対応するメニュー項目を返す。
func ForResource(resource string) (Item, bool) {
	for _, item := range menu {
		if item.Resource != "" && item.Resource == resource {
			return item, true
		}
	}
	return Item{}, false
}

// Title はパスに対応する画面名を返す。該当が無い場合は "Dashboard"。
func Title(path string) string {
	if item, ok := Lookup(path); ok {
		return item.Name
	}
	return "Dashboard"
}
