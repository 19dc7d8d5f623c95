// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証結果ラベル
const (
	AuthResultAccepted = "accepted"
	AuthResultRejected = "rejected"
	AuthResultError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// WebSocketサーバー、TODOサービス、再接続クライアントから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordAuth(result string)
	RecordMessage(msgType string)
	RecordTodoCreated()
	RecordClientReconnect()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connectionsActive prometheus.Gauge
	authTotal         *prometheus.CounterVec
	messagesTotal     *prometheus.CounterVec
	todosCreated      prometheus.Counter
	clientReconnects  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whispa_ws_connections_active",
			Help: "現在開いているWebSocket接続数",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whispa_ws_auth_total",
			Help: "WebSocketハンドシェイク認証の結果別の合計数",
		}, []string{"result"}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whispa_ws_messages_total",
			Help: "受信メッセージの種別ごとの合計数",
		}, []string{"type"}),
		todosCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whispa_todos_created_total",
			Help: "作成されたTODOの合計数",
		}),
		clientReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whispa_ws_client_reconnects_total",
			Help: "クライアントが予約した再接続の合計数",
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.authTotal,
		c.messagesTotal,
		c.todosCreated,
		c.clientReconnects,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// RecordAuth は認証結果を記録する。
func (c *Collector) RecordAuth(result string) {
	c.authTotal.WithLabelValues(result).Inc()
}

// RecordMessage は受信メッセージ種別を記録する。
func (c *Collector) RecordMessage(msgType string) {
	c.messagesTotal.WithLabelValues(msgType).Inc()
}

// RecordTodoCreated はTODO作成を記録する。
func (c *Collector) RecordTodoCreated() {
	c.todosCreated.Inc()
}

// RecordClientReconnect は再接続の予約を記録する。
func (c *Collector) RecordClientReconnect() {
	c.clientReconnects.Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) ConnectionOpened()      {}
func (Nop) ConnectionClosed()      {}
func (Nop) RecordAuth(string)      {}
func (Nop) RecordMessage(string)   {}
func (Nop) RecordTodoCreated()     {}
func (Nop) RecordClientReconnect() {}

// Handler はregの内容を公開するスクレイプ用ハンドラーを返す。
// スクレイプ自体の回数もregに記録し、Acceptに応じてOpenMetrics形式でも返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	}))
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
