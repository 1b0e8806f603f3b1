package table

import "strings"

// バッジの色クラス
const (
	BadgeGray   = "badge-gray"
	BadgeBlue   = "badge-blue"
	BadgeYellow = "badge-yellow"
	BadgeGreen  = "badge-green"
	BadgeRed    = "badge-red"
)

// badgeClasses はステータス値ごとの色クラス。未知のステータスはBadgeGray。
var badgeClasses = map[string]string{
	// 受注ステータス
	"draft":              BadgeGray,
	"quoted":             BadgeBlue,
	"confirmed":          BadgeBlue,
	"in_production":      BadgeYellow,
	"quality_check":      BadgeYellow,
	"ready_for_dispatch": BadgeGreen,
	"dispatched":         BadgeGreen,
	"completed":          BadgeGreen,
	"cancelled":          BadgeRed,
	"on_hold":            BadgeRed,

	// 汎用
	"pending":     BadgeYellow,
	"in_progress": BadgeYellow,
	"pass":        BadgeGreen,
	"fail":        BadgeRed,
	"approved":    BadgeGreen,
	"rejected":    BadgeRed,

	// 優先度
	"low":    BadgeGray,
	"normal": BadgeBlue,
	"high":   BadgeYellow,
	"urgent": BadgeRed,
}

// BadgeClass はステータスの色クラスを返す。
func BadgeClass(status string) string {
	if c, ok := badgeClasses[strings.ToLower(strings.TrimSpace(status))]; ok {
		return c
	}
	return BadgeGray
}

// BadgeLabel はバッジの表示名を返す。labelがあればそれを、無ければstatusの"_"を空白にしたものを使う。
func BadgeLabel(status, label string) string {
	if label != "" {
		return label
	}
	return strings.ReplaceAll(status, "_", " ")
}
