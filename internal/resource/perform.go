package resource

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// Perform はフォームやコマンドラインから受け取った文字列フィールドでアクションを実行する。
// 既知のアクションは型付きのリクエストに変換して送信し、
// それ以外は空でないフィールドをそのままJSONオブジェクトとして送信する。
func (s *Service) Perform(ctx context.Context, name, id, action string, fields map[string]string) (table.Row, error) {
	get := func(key string) string { return strings.TrimSpace(fields[key]) }

	switch {
	case name == Orders && action == ActionUpdateStatus:
		return s.UpdateOrderStatus(ctx, id, model.StatusUpdate{Status: get("status"), Notes: get("notes")})
	case action == ActionToggleActive:
		return s.ToggleActive(ctx, name, id)
	case name == Users && action == ActionChangeRole:
		return s.ChangeRole(ctx, id, model.Role(get("role")))
	case name == Materials && action == ActionAdjustStock:
		return s.AdjustStock(ctx, id, model.StockAdjustment{
			Quantity:        get("quantity"),
			TransactionType: get("transaction_type"),
			ReferenceNumber: get("reference_number"),
			Notes:           get("notes"),
		})
	case name == Production && action == ActionVerify:
		return s.VerifyProduction(ctx, id)
	case name == Inspections && action == ActionQAApprove:
		approved, err := parseApproved(get("approved"))
		if err != nil {
			return nil, err
		}
		return s.QAApprove(ctx, id, model.QAApproval{Approved: approved, Remarks: get("remarks")})
	case name == Dispatches && action == ActionMarkPacked:
		p := model.PackingDetails{
			GrossWeight:    get("gross_weight"),
			NetWeight:      get("net_weight"),
			Dimensions:     get("dimensions"),
			PackingDetails: get("packing_details"),
		}
		if v := get("total_packages"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, model.NewStatusError(http.StatusBadRequest, "",
					map[string][]string{"total_packages": {"A valid integer is required."}})
			}
			p.TotalPackages = n
		}
		return s.MarkPacked(ctx, id, p)
	case name == Dispatches && action == ActionDispatch:
		return s.Dispatch(ctx, id, model.TransportDetails{
			TransporterName: get("transporter_name"),
			VehicleNumber:   get("vehicle_number"),
			DriverName:      get("driver_name"),
			DriverPhone:     get("driver_phone"),
			TrackingNumber:  get("tracking_number"),
			LRNumber:        get("lr_number"),
		})
	}

	body := make(map[string]string, len(fields))
	for k, v := range fields {
		if v = strings.TrimSpace(v); v != "" {
			body[k] = v
		}
	}
	if len(body) == 0 {
		return s.Do(ctx, name, id, action, nil)
	}
	return s.Do(ctx, name, id, action, body)
}

// parseApproved はQA承認フォームの値を解釈する。未指定は承認として扱う。
func parseApproved(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "", "true", "1", "yes", "approve", "approved":
		return true, nil
	case "false", "0", "no", "reject", "rejected":
		return false, nil
	default:
		return false, model.NewStatusError(http.StatusBadRequest, "",
			map[string][]string{"approved": {"Must be true or false."}})
	}
}
