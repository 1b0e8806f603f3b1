// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアント、セッション管理、書類ダウンロードから利用する。
type MetricsCollector interface {
	RecordRequest(method string, statusCode int, duration time.Duration)
	RecordRefresh(outcome string)
	RecordSessionEvent(event string)
	RecordDocumentDownload(ok bool, bytes int64)
	RecordExportRows(format string, rows int)
	RecordConsoleRequest(route string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	refreshes     *prometheus.CounterVec
	sessionEvents *prometheus.CounterVec
	documents     *prometheus.CounterVec
	documentBytes prometheus.Counter
	exportRows    *prometheus.CounterVec
	pageRequests  *prometheus.CounterVec
	pageLatency   *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_api_requests_total",
			Help: "バックエンドAPIへのリクエスト数（メソッド・ステータス区分別）",
		}, []string{"method", "status_class"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mfgconsole_api_request_duration_seconds",
			Help:    "バックエンドAPIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_token_refresh_total",
			Help: "アクセストークン更新の結果別の回数",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_session_events_total",
			Help: "セッション状態遷移イベントの回数",
		}, []string{"event"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_document_downloads_total",
			Help: "出荷書類のダウンロード数",
		}, []string{"result"}),
		documentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mfgconsole_document_download_bytes_total",
			Help: "ダウンロードした出荷書類の合計バイト数",
		}),
		exportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_export_rows_total",
			Help: "エクスポートした行数",
		}, []string{"format"}),
		pageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfgconsole_console_requests_total",
			Help: "Webコンソールへのリクエスト数（ルート・ステータス区分別）",
		}, []string{"route", "status_class"}),
		pageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mfgconsole_console_request_duration_seconds",
			Help:    "Webコンソールの応答時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.refreshes,
		c.sessionEvents,
		c.documents,
		c.documentBytes,
		c.exportRows,
		c.pageRequests,
		c.pageLatency,
	)

	return c
}

// statusClass はステータスコードを "2xx" のような区分に変換する。0は通信エラー。
func statusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// RecordRequest はAPIリクエストを記録する。
func (c *Collector) RecordRequest(method string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, statusClass(statusCode)).Inc()
	c.apiLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// RecordSessionEvent はセッションイベントを記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordDocumentDownload は書類ダウンロードの結果を記録する。
func (c *Collector) RecordDocumentDownload(ok bool, bytes int64) {
	if !ok {
		c.documents.WithLabelValues("failure").Inc()
		return
	}
	c.documents.WithLabelValues("success").Inc()
	c.documentBytes.Add(float64(bytes))
}

// RecordExportRows はエクスポートした行数を記録する。
func (c *Collector) RecordExportRows(format string, rows int) {
	c.exportRows.WithLabelValues(format).Add(float64(rows))
}

// RecordConsoleRequest はWebコンソールへのリクエストを記録する。
// routeにはchiのルートパターン（例: "/orders/{id}"）を渡し、ラベルの種類を抑える。
func (c *Collector) RecordConsoleRequest(route string, statusCode int, duration time.Duration) {
	c.pageRequests.WithLabelValues(route, statusClass(statusCode)).Inc()
	c.pageLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
