// Package listing は一覧画面で共通のページング取得、ページ番号表示、
// 読み込み状態の判定を提供する。リソースの型には依存しない。
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/model"
)

// DefaultPageSize はバックエンドの既定ページサイズ。
const DefaultPageSize = 20

// Doer は認証付きでリクエストを送信する。*session.Managerがこれを満たす。
type Doer interface {
	Do(ctx context.Context, r *apiclient.Request) (*apiclient.Response, error)
}

// Filters は一覧取得の絞り込み条件。クエリパラメータとして送信される。
type Filters map[string]string

// Values は空の値を除いたクエリパラメータを返す。
func (f Filters) Values() url.Values {
	v := url.Values{}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f[k] != "" {
			v.Set(k, f[k])
		}
	}
	return v
}

// Page はサーバー側でページングされた一覧の1ページ分。
// Itemsの順序はサーバーの並び順のまま保持する。
type Page[T any] struct {
	Items      []T
	Page       int
	TotalPages int
	HasNext    bool
	HasPrev    bool

	// Count はバックエンドが総件数を返した場合のみ有効。
	Count    int
	HasCount bool
}

// NewPage はPageを生成する。HasNext/HasPrevはpageとtotalPagesから導出する。
func NewPage[T any](items []T, page, totalPages int) Page[T] {
	if page < 1 {
		page = 1
	}
	if totalPages < page {
		totalPages = page
	}
	return Page[T]{
		Items:      items,
		Page:       page,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// Empty は項目が0件の場合にtrueを返す。
func (p Page[T]) Empty() bool {
	return len(p.Items) == 0
}

// envelope はDRFのページングレスポンス。
type envelope struct {
	Results         json.RawMessage `json:"results"`
	Count           *int            `json:"count"`
	Next            *string         `json:"next"`
	Previous        *string         `json:"previous"`
	Page            *int            `json:"page"`
	TotalPages      *int            `json:"total_pages"`
	TotalPagesCamel *int            `json:"totalPages"`
}

// FetchPage はresourceの一覧をpageページ目について取得する。
// filtersはクエリパラメータとして送信し、pageは2ページ目以降のみ送信する。
// レスポンスは{results, count, next, previous}形式と配列形式の両方を受け付ける。
// pageSizeは総ページ数を件数から求める場合にのみ使う。
func FetchPage[T any](ctx context.Context, d Doer, resource string, filters Filters, page, pageSize int) (Page[T], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	req := apiclient.NewRequest(http.MethodGet, resource, nil)
	req.Query = filters.Values()
	if page > 1 {
		req.Query.Set("page", strconv.Itoa(page))
	}

	resp, err := d.Do(ctx, req)
	if err != nil {
		return Page[T]{}, err
	}
	return DecodePage[T](resp.Body, page, pageSize)
}

// DecodePage は一覧レスポンスのボディをPageに変換する。
func DecodePage[T any](body []byte, page, pageSize int) (Page[T], error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Page[T]{}, model.NewInvalidResponseError(errors.New("empty list response"))
	}

	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return Page[T]{}, model.NewInvalidResponseError(fmt.Errorf("failed to decode list: %w", err))
		}
		return NewPage(items, 1, 1), nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page[T]{}, model.NewInvalidResponseError(fmt.Errorf("failed to decode list envelope: %w", err))
	}
	if env.Results == nil {
		return Page[T]{}, model.NewInvalidResponseError(errors.New("list response has no results"))
	}
	// "results": null は空の一覧として扱う
	results := []T{}
	if err := json.Unmarshal(env.Results, &results); err != nil {
		return Page[T]{}, model.NewInvalidResponseError(fmt.Errorf("failed to decode list results: %w", err))
	}
	if results == nil {
		results = []T{}
	}

	if env.Page != nil && *env.Page > 0 {
		page = *env.Page
	}

	var p Page[T]
	switch {
	case env.TotalPages != nil:
		p = NewPage(results, page, *env.TotalPages)
	case env.TotalPagesCamel != nil:
		p = NewPage(results, page, *env.TotalPagesCamel)
	case env.Count != nil:
		p = NewPage(results, page, ceilDiv(*env.Count, pageSize))
	default:
		// 件数が不明な場合はnext/previousから前後のページの有無だけを判断する
		total := page
		if env.Next != nil && *env.Next != "" {
			total = page + 1
		}
		p = NewPage(results, page, total)
	}
	if env.Count != nil {
		p.Count = *env.Count
		p.HasCount = true
	}
	return p, nil
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 1
	}
	return (n + d - 1) / d
}
