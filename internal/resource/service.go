package resource

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/listing"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// Service はリソースに対するAPI呼び出しを提供する。
// 全てのリクエストは認証付きのDoer（*session.Manager）を経由する。
type Service struct {
	doer     listing.Doer
	catalog  *Catalog
	pageSize int
	logger   *slog.Logger
}

// NewService はServiceを生成する。pageSizeが0以下の場合は既定値を使う。
func NewService(doer listing.Doer, catalog *Catalog, pageSize int, logger *slog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = listing.DefaultPageSize
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{doer: doer, catalog: catalog, pageSize: pageSize, logger: logger}
}

// Catalog はリソース定義の一覧を返す。
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// PageSize は一覧のページサイズを返す。
func (s *Service) PageSize() int {
	return s.pageSize
}

// Definition は名前でリソース定義を返す。未知の名前はNOT_FOUNDエラー。
func (s *Service) Definition(name string) (Definition, error) {
	d, ok := s.catalog.Lookup(name)
	if !ok {
		return Definition{}, model.NewStatusError(http.StatusNotFound, fmt.Sprintf("unknown resource %q", name), nil)
	}
	return d, nil
}

// List は一覧のpageページ目を取得する。定義に無い絞り込み条件は送信しない。
func (s *Service) List(ctx context.Context, name string, filters listing.Filters, page int) (listing.Page[table.Row], error) {
	d, err := s.Definition(name)
	if err != nil {
		return listing.Page[table.Row]{}, err
	}
	accepted := listing.Filters{}
	for k, v := range filters {
		if d.AcceptsFilter(k) {
			accepted[k] = v
		} else {
			s.logger.Debug("dropping unsupported filter", "resource", name, "filter", k)
		}
	}
	return listing.FetchPage[table.Row](ctx, s.doer, d.Path, accepted, page, s.pageSize)
}

// Fetcher は一覧画面（listing.Screen）用の取得関数を返す。
func (s *Service) Fetcher(name string) listing.Fetcher[table.Row] {
	return func(ctx context.Context, filters listing.Filters, page int) (listing.Page[table.Row], error) {
		return s.List(ctx, name, filters, page)
	}
}

// Get はレコードを1件取得する。
func (s *Service) Get(ctx context.Context, name, id string) (table.Row, error) {
	d, err := s.Definition(name)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, http.MethodGet, d.ItemPath(id), nil)
}

// Create はレコードを作成する。
func (s *Service) Create(ctx context.Context, name string, body any) (table.Row, error) {
	d, err := s.Definition(name)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, http.MethodPost, d.Path, body)
}

// Update はレコードを部分更新（PATCH）する。
func (s *Service) Update(ctx context.Context, name, id string, patch any) (table.Row, error) {
	d, err := s.Definition(name)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, http.MethodPatch, d.ItemPath(id), patch)
}

// Do はアクションを実行する。bodyがnilの場合はボディ無しでPOSTする。
// 定義に無いアクションはバックエンドへ送信せずにエラーを返す。
// レスポンスが空の場合は空のRowを返す。
func (s *Service) Do(ctx context.Context, name, id, action string, body any) (table.Row, error) {
	d, err := s.Definition(name)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Action(action); !ok {
		return nil, model.NewStatusError(http.StatusNotFound, fmt.Sprintf("unknown action %q for %s", action, name), nil)
	}
	row, err := s.send(ctx, http.MethodPost, d.ActionPath(id, action), body)
	if err != nil {
		return nil, err
	}
	s.logger.Info("resource action completed", "resource", name, "id", id, "action", action)
	return row, nil
}

// send はリクエストを送信し、JSONオブジェクトのレスポンスをRowとして返す。
func (s *Service) send(ctx context.Context, method, path string, body any) (table.Row, error) {
	resp, err := s.doer.Do(ctx, apiclient.NewRequest(method, path, body))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return table.Row{}, nil
	}
	var row table.Row
	if err := resp.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// getJSON はpathをGETしてvにデコードする。
func (s *Service) getJSON(ctx context.Context, path string, v any) error {
	resp, err := s.doer.Do(ctx, apiclient.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

// decodeRows は配列形式またはresults形式のレスポンスから行を取り出す。
func decodeRows(body []byte) ([]table.Row, error) {
	p, err := listing.DecodePage[table.Row](body, 1, listing.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}
