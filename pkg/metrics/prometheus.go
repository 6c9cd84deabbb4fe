package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gigsync"

// Known enum values, so state gauges read as one-hot series.
var (
	connectionStates = []string{"DISCONNECTED", "CONNECTING", "CONNECTED", "ERROR"}
	circuitStates    = []string{"CLOSED", "OPEN", "HALF_OPEN"}
	qualities        = []string{"GOOD", "POOR", "STALLED"}
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	connectionState  *prom.GaugeVec
	reconnects       *prom.CounterVec
	activeChannels   prom.Gauge
	notifications    *prom.CounterVec
	fetchDuration    *prom.HistogramVec
	fetchResults     *prom.CounterVec
	cacheDeliveries  *prom.CounterVec
	droppedRows      *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	circuitState     *prom.GaugeVec
	quality          *prom.GaugeVec
	mutations        *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		connectionState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Push connection state (1 for the current state)",
		}, []string{"state"}),
		reconnects: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by trigger",
		}, []string{"reason"}),
		activeChannels: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "Live subscription channels",
		}),
		notifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications delivered",
		}, []string{"entity", "op"}),
		fetchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of bulk reads",
			Buckets:   prom.DefBuckets,
		}, []string{"collection"}),
		fetchResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_results_total",
			Help:      "Bulk read outcomes",
		}, []string{"collection", "result"}),
		cacheDeliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_deliveries_total",
			Help:      "Deliveries served from the cache",
		}, []string{"collection"}),
		droppedRows: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_rows_total",
			Help:      "Malformed rows skipped during decode",
		}, []string{"collection"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Scheduled fetch retries",
		}, []string{"collection"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retry_exhausted_total",
			Help:      "Times the retry schedule gave up",
		}, []string{"collection"}),
		circuitState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (1 for the current state)",
		}, []string{"service", "state"}),
		quality: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_quality",
			Help:      "Collection connection quality (1 for the current quality)",
		}, []string{"collection", "quality"}),
		mutations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic mutation outcomes",
		}, []string{"collection", "result"}),
	}
	reg.MustRegister(
		pr.connectionState, pr.reconnects, pr.activeChannels, pr.notifications,
		pr.fetchDuration, pr.fetchResults, pr.cacheDeliveries, pr.droppedRows,
		pr.retries, pr.retriesExhausted, pr.circuitState, pr.quality, pr.mutations,
	)
	return pr
}

// RegisterRuntimeCollectors adds Go runtime and process collectors to reg.
func RegisterRuntimeCollectors(reg *prom.Registry) {
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) SetConnectionState(state string) {
	setOneHot(p.connectionState, connectionStates, state)
}

func (p *PrometheusRecorder) IncReconnect(reason string) {
	p.reconnects.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) SetActiveChannels(n int) {
	p.activeChannels.Set(float64(n))
}

func (p *PrometheusRecorder) IncNotification(entityType, op string) {
	p.notifications.WithLabelValues(entityType, op).Inc()
}

func (p *PrometheusRecorder) ObserveFetch(collection string, d time.Duration, result FetchResult) {
	if result == FetchSuccess || result == FetchFailed || result == FetchTimeout {
		p.fetchDuration.WithLabelValues(collection).Observe(d.Seconds())
	}
	p.fetchResults.WithLabelValues(collection, string(result)).Inc()
}

func (p *PrometheusRecorder) IncCacheDelivery(collection string) {
	p.cacheDeliveries.WithLabelValues(collection).Inc()
}

func (p *PrometheusRecorder) IncDroppedRows(collection string, n int) {
	p.droppedRows.WithLabelValues(collection).Add(float64(n))
}

func (p *PrometheusRecorder) IncRetry(collection string) {
	p.retries.WithLabelValues(collection).Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted(collection string) {
	p.retriesExhausted.WithLabelValues(collection).Inc()
}

func (p *PrometheusRecorder) SetCircuitState(service, state string) {
	setOneHot(p.circuitState, circuitStates, state, service)
}

func (p *PrometheusRecorder) SetQuality(collection, quality string) {
	setOneHot(p.quality, qualities, quality, collection)
}

func (p *PrometheusRecorder) IncMutation(collection string, success bool) {
	res := "failed"
	if success {
		res = "success"
	}
	p.mutations.WithLabelValues(collection, res).Inc()
}

// setOneHot sets the series for current to 1 and every other known value
// to 0. prefix holds the label values preceding the state label.
func setOneHot(g *prom.GaugeVec, known []string, current string, prefix ...string) {
	for _, v := range known {
		val := 0.0
		if v == current {
			val = 1
		}
		g.WithLabelValues(append(append([]string{}, prefix...), v)...).Set(val)
	}
}

// Compile-time interface satisfaction check.
var _ Recorder = (*PrometheusRecorder)(nil)
