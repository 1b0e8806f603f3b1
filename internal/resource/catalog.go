package resource

import (
	"fmt"
	"html"
	"strings"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/table"
)

// リソース名
const (
	Orders      = "orders"
	Customers   = "customers"
	Materials   = "materials"
	Production  = "production"
	Inspections = "inspections"
	Dispatches  = "dispatches"
	Users       = "users"
)

// アクション名
const (
	ActionUpdateStatus     = "update_status"
	ActionToggleActive     = "toggle_active"
	ActionAdjustStock      = "adjust_stock"
	ActionVerify           = "verify"
	ActionQAApprove        = "qa_approve"
	ActionStartPacking     = "start_packing"
	ActionMarkPacked       = "mark_packed"
	ActionReadyForDispatch = "ready_for_dispatch"
	ActionDispatch         = "dispatch"
	ActionMarkInTransit    = "mark_in_transit"
	ActionMarkDelivered    = "mark_delivered"
	ActionChangeRole       = "change_role"
)

// OrderHistoryTable は受注ステータス履歴の表。
var OrderHistoryTable = table.Table{
	Columns: []table.Column{
		table.BadgeColumn("status", "Status", "status_display"),
		table.TextColumn("notes", "Notes"),
		table.TextColumn("changed_by_name", "Changed By"),
		table.DateTimeColumn("changed_at", "Changed At"),
	},
	EmptyMessage: "No status changes recorded",
}

// OrderStatuses は受注ステータスの選択肢。
var OrderStatuses = []string{
	"draft", "quoted", "confirmed", "in_production", "quality_check",
	"ready_for_dispatch", "dispatched", "completed", "cancelled", "on_hold",
}

func roleOptions() []string {
	roles := model.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// boolBadge は真偽値をバッジで表示する整形関数を返す。
func boolBadge(onTrue, trueClass, onFalse, falseClass string) table.Formatter {
	return func(v any, _ table.Row) string {
		label, class := onFalse, falseClass
		if b, _ := v.(bool); b {
			label, class = onTrue, trueClass
		}
		return fmt.Sprintf(`<span class="badge %s">%s</span>`, class, html.EscapeString(label))
	}
}

func htmlColumn(key, label string, f table.Formatter) table.Column {
	c := table.CustomColumn(key, label, f)
	c.HTML = true
	return c
}

// withUnit は数量に行の単位表示を付ける。
func withUnit(v any, row table.Row) string {
	q := table.FormatNumber(v)
	if unit := row.String("unit_display"); unit != "" {
		return q + " " + unit
	}
	return q
}

func fullName(_ any, row table.Row) string {
	name := strings.TrimSpace(row.String("first_name") + " " + row.String("last_name"))
	if name != "" {
		return name
	}
	return row.String("email")
}

func statusIs(statuses ...string) func(table.Row) bool {
	return func(row table.Row) bool {
		s := row.String("status")
		for _, want := range statuses {
			if s == want {
				return true
			}
		}
		return false
	}
}

// DefaultCatalog はコンソールが扱う全リソースの定義を返す。
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Definition{
			Name:  Orders,
			Title: "Orders",
			Path:  "/crm/orders/",
			Columns: []table.Column{
				table.TextColumn("quote_number", "Quote #"),
				table.TextColumn("customer_name", "Customer"),
				table.TextColumn("project_name", "Project"),
				table.NumberColumn("ordered_quantity", "Qty"),
				table.BadgeColumn("status", "Status", "status_display"),
				table.BadgeColumn("priority", "Priority", "priority_display"),
				table.ProgressColumn("status_percentage", "Progress"),
				table.DateColumn("expected_delivery_date", "Delivery Date"),
			},
			Filters:      []string{"status", "priority", "customer"},
			EmptyMessage: "No orders found",
			Detail:       true,
			Actions: []Action{
				{Name: ActionUpdateStatus, Label: "Update Status", Fields: []Field{
					{Name: "status", Label: "Status", Options: OrderStatuses, Required: true},
					{Name: "notes", Label: "Notes"},
				}},
			},
		},
		Definition{
			Name:  Customers,
			Title: "Customers",
			Path:  "/crm/customers/",
			Columns: []table.Column{
				table.TextColumn("company_name", "Company"),
				table.TextColumn("name", "Contact"),
				table.TextColumn("email", "Email"),
				table.TextColumn("phone", "Phone"),
				table.TextColumn("city", "City"),
				table.BadgeColumn("customer_type", "Type", "customer_type_display"),
				table.NumberColumn("total_orders", "Orders"),
				htmlColumn("is_active", "Status", boolBadge("Active", table.BadgeGreen, "Inactive", table.BadgeRed)),
			},
			Filters:      []string{"customer_type", "is_active", "city"},
			EmptyMessage: "No customers found",
			Detail:       true,
			Actions: []Action{
				{Name: ActionToggleActive, Label: "Toggle Active"},
			},
		},
		Definition{
			Name:  Materials,
			Title: "Materials",
			Path:  "/materials/materials/",
			Columns: []table.Column{
				table.TextColumn("code", "Code"),
				table.TextColumn("name", "Name"),
				table.TextColumn("material_type_name", "Type"),
				table.TextColumn("grade", "Grade"),
				table.TextColumn("dimensions", "Dimensions"),
				table.CustomColumn("stock_quantity", "Stock", withUnit),
				table.CustomColumn("minimum_stock", "Min Stock", withUnit),
				htmlColumn("is_low_stock", "Status", boolBadge("Low Stock", table.BadgeRed, "OK", table.BadgeGreen)),
				table.CurrencyColumn("unit_price", "Price"),
			},
			Filters:      []string{"material_type", "is_active"},
			EmptyMessage: "No materials found",
			Actions: []Action{
				{Name: ActionAdjustStock, Label: "Adjust Stock", Fields: []Field{
					{Name: "transaction_type", Label: "Type", Options: stockTransactionTypes, Required: true},
					{Name: "quantity", Label: "Quantity", Numeric: true, Required: true},
					{Name: "reference_number", Label: "Reference"},
					{Name: "notes", Label: "Notes"},
				}},
			},
		},
		Definition{
			Name:  Production,
			Title: "Production",
			Path:  "/production/records/",
			Columns: []table.Column{
				table.TextColumn("order_quote_number", "Order"),
				table.DateColumn("production_date", "Date"),
				table.TextColumn("shift_display", "Shift"),
				table.NumberColumn("produced_quantity", "Produced"),
				table.NumberColumn("ok_quantity", "OK"),
				table.NumberColumn("rework_quantity", "Rework"),
				table.NumberColumn("rejection_quantity", "Rejection"),
				table.PercentageColumn("total_yield_percentage", "Yield %"),
				table.TextColumn("recorded_by_name", "Recorded By"),
			},
			Filters:      []string{"order", "production_date", "shift", "is_verified"},
			EmptyMessage: "No production records found",
			Actions: []Action{
				{Name: ActionVerify, Label: "Verify", Available: func(r table.Row) bool {
					v, _ := r.Value("is_verified").(bool)
					return !v
				}},
			},
		},
		Definition{
			Name:  Inspections,
			Title: "Inspection",
			Path:  "/inspection/order-inspections/",
			Columns: []table.Column{
				table.TextColumn("order_quote_number", "Order"),
				table.TextColumn("inspection_type_name", "Type"),
				table.TextColumn("inspection_type_stage", "Stage"),
				table.NumberColumn("inspected_quantity", "Inspected"),
				table.NumberColumn("passed_quantity", "Passed"),
				table.NumberColumn("failed_quantity", "Failed"),
				table.BadgeColumn("result", "Result", "result_display"),
				htmlColumn("is_qa_approved", "QA Approved", boolBadge("Approved", table.BadgeGreen, "Pending", table.BadgeYellow)),
				table.DateColumn("inspection_date", "Date"),
			},
			Filters:      []string{"order", "result", "is_qa_approved", "inspection_type"},
			EmptyMessage: "No inspection records found",
			Actions: []Action{
				{Name: ActionQAApprove, Label: "QA Approve", Available: func(r table.Row) bool {
					v, _ := r.Value("is_qa_approved").(bool)
					return !v
				}, Fields: []Field{
					{Name: "approved", Label: "Decision", Options: []string{"true", "false"}, Required: true},
					{Name: "remarks", Label: "Remarks"},
				}},
			},
		},
		Definition{
			Name:  Dispatches,
			Title: "Logistics",
			Path:  "/logistics/dispatches/",
			Columns: []table.Column{
				table.TextColumn("order_quote_number", "Order"),
				table.TextColumn("order_project_name", "Project"),
				table.TextColumn("customer_name", "Customer"),
				table.BadgeColumn("status", "Status", "status_display"),
				table.TextColumn("transport_mode_display", "Transport"),
				table.DateColumn("planned_dispatch_date", "Planned Date"),
				table.DateColumn("actual_dispatch_date", "Dispatched"),
				htmlColumn("can_dispatch", "QA Status", boolBadge("Approved", table.BadgeGreen, "Pending", table.BadgeYellow)),
			},
			Filters:      []string{"status", "order", "transport_mode"},
			EmptyMessage: "No dispatch records found",
			Actions: []Action{
				{Name: ActionStartPacking, Label: "Start Packing", Available: statusIs("pending")},
				{Name: ActionMarkPacked, Label: "Mark Packed", Available: statusIs("packing"), Fields: []Field{
					{Name: "total_packages", Label: "Packages", Numeric: true},
					{Name: "gross_weight", Label: "Gross Weight"},
					{Name: "net_weight", Label: "Net Weight"},
					{Name: "dimensions", Label: "Dimensions"},
				}},
				{Name: ActionReadyForDispatch, Label: "Ready for Dispatch", Available: statusIs("packed")},
				{Name: ActionDispatch, Label: "Dispatch", Available: func(r table.Row) bool {
					ok, _ := r.Value("can_dispatch").(bool)
					return ok && statusIs("packed", "ready")(r)
				}, Fields: []Field{
					{Name: "transporter_name", Label: "Transporter"},
					{Name: "vehicle_number", Label: "Vehicle"},
					{Name: "driver_name", Label: "Driver"},
					{Name: "driver_phone", Label: "Driver Phone"},
					{Name: "tracking_number", Label: "Tracking #"},
					{Name: "lr_number", Label: "LR #"},
				}},
				{Name: ActionMarkInTransit, Label: "Mark In Transit", Available: statusIs("dispatched")},
				{Name: ActionMarkDelivered, Label: "Mark Delivered", Available: statusIs("dispatched", "in_transit")},
			},
		},
		Definition{
			Name:  Users,
			Title: "Users",
			Path:  "/accounts/users/",
			Columns: []table.Column{
				table.CustomColumn("full_name", "Name", fullName),
				table.TextColumn("email", "Email"),
				table.TextColumn("role_display", "Role"),
				table.TextColumn("department", "Department"),
				table.TextColumn("employee_id", "Employee ID"),
				htmlColumn("is_active", "Status", boolBadge("Active", table.BadgeGreen, "Inactive", table.BadgeRed)),
			},
			Filters:      []string{"role", "is_active", "department"},
			EmptyMessage: "No users found",
			Actions: []Action{
				{Name: ActionToggleActive, Label: "Toggle Active"},
				{Name: ActionChangeRole, Label: "Change Role", Fields: []Field{
					{Name: "role", Label: "Role", Options: roleOptions(), Required: true},
				}},
			},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("invalid default catalog: %v", err))
	}
	return c
}
