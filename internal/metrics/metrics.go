// Package metrics 汇总守护进程的 Prometheus 指标。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gcptts"

var (
	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "合成请求数",
		},
		[]string{"status"}, // success, failed, invalid
	)

	billedUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billed_units_total",
			Help:      "按计费档位累计的计费单位（字符或字节）",
		},
		[]string{"pricing"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Google Cloud TTS 接口耗时",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Google Cloud TTS 接口调用次数",
		},
		[]string{"endpoint", "status"},
	)

	playbackDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_dispatch_total",
			Help:      "播放分发次数",
		},
		[]string{"target", "status"},
	)

	catalogFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_flushes_total",
			Help:      "语音目录写盘次数",
		},
		[]string{"status"},
	)

	voiceRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_refresh_total",
			Help:      "语音列表刷新次数",
		},
		[]string{"status"},
	)

	allMetrics = []prometheus.Collector{
		synthesisTotal,
		billedUnitsTotal,
		providerRequestDuration,
		providerRequestsTotal,
		playbackDispatchTotal,
		catalogFlushesTotal,
		voiceRefreshTotal,
	}

	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Registry 返回注册了全部指标和 Go 运行时指标的私有 Registry。
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(allMetrics...)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	return registry
}

// Handler 返回 /metrics 的 http.Handler。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSynthesis 记录一次合成结果：success、failed 或 invalid。
func RecordSynthesis(result string) {
	synthesisTotal.WithLabelValues(result).Inc()
}

// AddBilledUnits 累加计费单位。
func AddBilledUnits(pricing string, units int) {
	if units > 0 {
		billedUnitsTotal.WithLabelValues(pricing).Add(float64(units))
	}
}

// RecordProviderRequest 记录一次提供方接口调用。
func RecordProviderRequest(endpoint string, err error, durationSeconds float64) {
	providerRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
	providerRequestsTotal.WithLabelValues(endpoint, status(err)).Inc()
}

// RecordDispatch 记录一次播放分发。
func RecordDispatch(target string, err error) {
	playbackDispatchTotal.WithLabelValues(target, status(err)).Inc()
}

// RecordCatalogFlush 记录一次目录写盘。
func RecordCatalogFlush(err error) {
	catalogFlushesTotal.WithLabelValues(status(err)).Inc()
}

// RecordVoiceRefresh 记录一次语音列表刷新。
func RecordVoiceRefresh(err error) {
	voiceRefreshTotal.WithLabelValues(status(err)).Inc()
}
