// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 解析ワーカー、認証ハンドラー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordAnalysisStarted()
	RecordAnalysisCompleted(duration time.Duration)
	RecordAnalysisFailed(duration time.Duration)
	RecordAnalysisDropped(reason string)
	SetQueueDepth(depth int)
	RecordAuthEvent(event, outcome string)
	RecordUpload(sizeBytes int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	analysisStarted  prometheus.Counter
	analysisDone     *prometheus.CounterVec
	analysisDropped  *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	queueDepth       prometheus.Gauge
	authEvents       *prometheus.CounterVec
	uploads          prometheus.Counter
	uploadBytes      prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		analysisStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docanalyzer_analysis_started_total",
			Help: "開始された解析ジョブの合計数",
		}),
		analysisDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docanalyzer_analysis_finished_total",
			Help: "終了した解析ジョブの結果別合計数",
		}, []string{"status"}),
		analysisDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docanalyzer_analysis_dropped_total",
			Help: "実行されずに破棄された解析ジョブの理由別合計数",
		}, []string{"reason"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docanalyzer_analysis_duration_seconds",
			Help:    "解析ジョブの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docanalyzer_analysis_queue_depth",
			Help: "解析キューの待ち件数",
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docanalyzer_auth_events_total",
			Help: "認証イベントの種類・結果別の合計数",
		}, []string{"event", "outcome"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docanalyzer_uploads_total",
			Help: "アップロードされたドキュメントの合計数",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docanalyzer_upload_bytes_total",
			Help: "アップロードされたドキュメントの合計バイト数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docanalyzer_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.analysisStarted,
		c.analysisDone,
		c.analysisDropped,
		c.analysisDuration,
		c.queueDepth,
		c.authEvents,
		c.uploads,
		c.uploadBytes,
		c.httpStatus,
	)

	return c
}

// RecordAnalysisStarted は解析ジョブの開始を記録する。
func (c *Collector) RecordAnalysisStarted() {
	c.analysisStarted.Inc()
}

// RecordAnalysisCompleted は解析ジョブの完了と所要時間を記録する。
func (c *Collector) RecordAnalysisCompleted(duration time.Duration) {
	c.analysisDone.WithLabelValues("completed").Inc()
	c.analysisDuration.Observe(duration.Seconds())
}

// RecordAnalysisFailed は解析ジョブの失敗と所要時間を記録する。
func (c *Collector) RecordAnalysisFailed(duration time.Duration) {
	c.analysisDone.WithLabelValues("failed").Inc()
	c.analysisDuration.Observe(duration.Seconds())
}

// RecordAnalysisDropped は実行されなかったジョブを記録する。
func (c *Collector) RecordAnalysisDropped(reason string) {
	c.analysisDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth は解析キューの待ち件数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordAuthEvent は認証イベント（login, register 等）の結果を記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordUpload はアップロードを記録する。
func (c *Collector) RecordUpload(sizeBytes int64) {
	c.uploads.Inc()
	c.uploadBytes.Add(float64(sizeBytes))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Noop struct{}

func (Noop) RecordAnalysisStarted()                {}
func (Noop) RecordAnalysisCompleted(time.Duration) {}
func (Noop) RecordAnalysisFailed(time.Duration)    {}
func (Noop) RecordAnalysisDropped(string)          {}
func (Noop) SetQueueDepth(int)                     {}
func (Noop) RecordAuthEvent(string, string)        {}
func (Noop) RecordUpload(int64)                    {}
func (Noop) RecordHTTPStatus(int)                  {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
