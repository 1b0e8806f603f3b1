// Package resource はバックエンドの各リソース（受注、顧客、資材など）の
// 一覧・詳細・更新・アクション呼び出しを提供する。
// 各画面はここで定義された列と絞り込み条件を使って一覧を表示する。
package resource

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/table"
)

// Action はレコード単位のアクション（POST {path}{id}/{name}/）。
type Action struct {
	Name  string
	Label string
	// Available は行に対してアクションを提示するかを返す。nilの場合は常に提示する。
	// 実行可否の最終判断はバックエンドが行う。
	Available func(row table.Row) bool
	// Fields はアクション実行時に入力する項目。
	Fields []Field
}

// Field はアクションの入力項目。Optionsがある場合は選択肢から選ぶ。
type Field struct {
	Name     string
	Label    string
	Options  []string
	Numeric  bool
	Required bool
}

// Offered は行に対してアクションを提示するかを返す。
func (a Action) Offered(row table.Row) bool {
	return a.Available == nil || a.Available(row)
}

// Definition は1リソース分の定義。
type Definition struct {
	// Name はCLIやURLで使うリソース名（例: "orders"）。
	Name  string
	Title string
	// Path はコレクションのAPIパス（例: "/crm/orders/"）。
	Path    string
	Columns []table.Column
	// Filters は一覧で受け付ける絞り込みパラメータ。
	Filters      []string
	EmptyMessage string
	// Detail は詳細画面を持つリソースの場合にtrue。一覧の行が詳細へのリンクになる。
	Detail  bool
	Actions []Action
}

// ItemPath はレコードのAPIパスを返す。
func (d Definition) ItemPath(id string) string {
	return d.Path + id + "/"
}

// ActionPath はアクションのAPIパスを返す。
func (d Definition) ActionPath(id, action string) string {
	return d.ItemPath(id) + action + "/"
}

// Action は名前でアクションを探す。
func (d Definition) Action(name string) (Action, bool) {
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// ActionsFor は行に対して提示するアクションを返す。
func (d Definition) ActionsFor(row table.Row) []Action {
	var out []Action
	for _, a := range d.Actions {
		if a.Offered(row) {
			out = append(out, a)
		}
	}
	return out
}

// AcceptsFilter はkeyが一覧の絞り込み条件として有効かを返す。
func (d Definition) AcceptsFilter(key string) bool {
	return key == "search" || slices.Contains(d.Filters, key)
}

// Table は表示用の表定義を返す。linkがnilでなく詳細画面を持つ場合、行はリンクになる。
func (d Definition) Table(link func(table.Row) string) table.Table {
	t := table.Table{Columns: d.Columns, EmptyMessage: d.EmptyMessage}
	if d.Detail && link != nil {
		t.RowLink = link
	}
	return t
}

// Catalog は名前で引けるリソース定義の集合。
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog はCatalogを生成する。名前の重複はエラー。
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(defs))}
	for _, d := range defs {
		if d.Name == "" || !strings.HasPrefix(d.Path, "/") || !strings.HasSuffix(d.Path, "/") {
			return nil, fmt.Errorf("invalid resource definition %q (path %q)", d.Name, d.Path)
		}
		if _, dup := c.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate resource %q", d.Name)
		}
		c.index[d.Name] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Lookup は名前でリソース定義を返す。
func (c *Catalog) Lookup(name string) (Definition, bool) {
	i, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Names は登録順のリソース名を返す。
func (c *Catalog) Names() []string {
	out := make([]string, len(c.defs))
	for i, d := range c.defs {
		out[i] = d.Name
	}
	return out
}
