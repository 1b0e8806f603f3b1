package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/apiclient"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// PathDashboardOverview はダッシュボード概要のAPIパス。
const PathDashboardOverview = "/dashboards/overview/"

// 在庫調整の種別
var stockTransactionTypes = []string{"receipt", "adjustment", "scrap"}

// UpdateOrderStatus は受注ステータスを更新する。
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, u model.StatusUpdate) (table.Row, error) {
	if strings.TrimSpace(u.Status) == "" {
		return nil, model.NewStatusError(http.StatusBadRequest, "status is required", map[string][]string{"status": {"This field is required."}})
	}
	return s.Do(ctx, Orders, id, ActionUpdateStatus, u)
}

// OrderStatusHistory は受注のステータス履歴を返す。
func (s *Service) OrderStatusHistory(ctx context.Context, id string) ([]table.Row, error) {
	d, err := s.Definition(Orders)
	if err != nil {
		return nil, err
	}
	resp, err := s.doer.Do(ctx, apiclient.NewRequest(http.MethodGet, d.ActionPath(id, "status_history"), nil))
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Body)
}

// ToggleActive は顧客またはユーザーの有効/無効を切り替える。
func (s *Service) ToggleActive(ctx context.Context, name, id string) (table.Row, error) {
	if name != Customers && name != Users {
		return nil, fmt.Errorf("toggle_active is not supported for %s", name)
	}
	return s.Do(ctx, name, id, ActionToggleActive, nil)
}

// ChangeRole はユーザーのロールを変更する。
func (s *Service) ChangeRole(ctx context.Context, id string, role model.Role) (table.Row, error) {
	if _, ok := model.ParseRole(string(role)); !ok {
		return nil, model.NewStatusError(http.StatusBadRequest, fmt.Sprintf("unknown role %q", role), nil)
	}
	return s.Do(ctx, Users, id, ActionChangeRole, map[string]string{"role": string(role)})
}

// AdjustStock は資材の在庫を調整する。
func (s *Service) AdjustStock(ctx context.Context, id string, adj model.StockAdjustment) (table.Row, error) {
	valid := false
	for _, t := range stockTransactionTypes {
		if adj.TransactionType == t {
			valid = true
			break
		}
	}
	if !valid {
		return nil, model.NewStatusError(http.StatusBadRequest, "invalid transaction type",
			map[string][]string{"transaction_type": {"Must be one of receipt, adjustment, scrap."}})
	}
	return s.Do(ctx, Materials, id, ActionAdjustStock, adj)
}

// VerifyProduction は生産記録を確認済みにする。
func (s *Service) VerifyProduction(ctx context.Context, id string) (table.Row, error) {
	return s.Do(ctx, Production, id, ActionVerify, nil)
}

// QAApprove は検査結果をQA承認または却下する。
func (s *Service) QAApprove(ctx context.Context, id string, a model.QAApproval) (table.Row, error) {
	return s.Do(ctx, Inspections, id, ActionQAApprove, a)
}

// StartPacking は出荷の梱包を開始する。
func (s *Service) StartPacking(ctx context.Context, id string) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionStartPacking, nil)
}

// MarkPacked は梱包完了を記録する。
func (s *Service) MarkPacked(ctx context.Context, id string, p model.PackingDetails) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionMarkPacked, p)
}

// ReadyForDispatch は出荷準備完了にする。
func (s *Service) ReadyForDispatch(ctx context.Context, id string) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionReadyForDispatch, nil)
}

// Dispatch は出荷する。QA承認前の出荷はバックエンドが拒否する。
func (s *Service) Dispatch(ctx context.Context, id string, t model.TransportDetails) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionDispatch, t)
}

// MarkInTransit は輸送中にする。
func (s *Service) MarkInTransit(ctx context.Context, id string) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionMarkInTransit, nil)
}

// MarkDelivered は配達完了にする。
func (s *Service) MarkDelivered(ctx context.Context, id string) (table.Row, error) {
	return s.Do(ctx, Dispatches, id, ActionMarkDelivered, nil)
}

// DispatchDocuments は出荷に添付された書類の一覧を返す。
func (s *Service) DispatchDocuments(ctx context.Context, id string) ([]model.DispatchDocument, error) {
	d, err := s.Definition(Dispatches)
	if err != nil {
		return nil, err
	}
	var docs []model.DispatchDocument
	if err := s.getJSON(ctx, d.ActionPath(id, "documents"), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Overview はダッシュボードの概要を返す。構造はバックエンドに依存するため、そのままのマップで返す。
func (s *Service) Overview(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := s.getJSON(ctx, PathDashboardOverview, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, model.NewInvalidResponseError(errors.New("dashboard overview is not an object"))
	}
	return out, nil
}
