package metrics

import "github.com/prometheus/client_golang/prometheus"

// CalendarMetrics exposes counters/histograms for the integration engine.
type CalendarMetrics struct {
	webhookTotal       *prometheus.CounterVec
	callsQueuedTotal   *prometheus.CounterVec
	providerErrorTotal *prometheus.CounterVec
	tokenRefreshTotal  *prometheus.CounterVec
	processingLatency  *prometheus.HistogramVec
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	m := &CalendarMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calendar",
			Subsystem: "webhooks",
			Name:      "delivery_total",
			Help:      "Total calendar webhook deliveries",
		}, []string{"provider", "outcome"}),
		callsQueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calendar",
			Subsystem: "callqueue",
			Name:      "queued_total",
			Help:      "Total outbound call tasks queued",
		}, []string{"call_type"}),
		providerErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calendar",
			Subsystem: "providers",
			Name:      "api_error_total",
			Help:      "Total provider API failures",
		}, []string{"provider", "kind"}),
		tokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calendar",
			Subsystem: "providers",
			Name:      "token_refresh_total",
			Help:      "Total OAuth token refresh attempts",
		}, []string{"provider", "outcome"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "calendar",
			Subsystem: "webhooks",
			Name:      "processing_seconds",
			Help:      "Latency of webhook processing after ack",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.callsQueuedTotal, m.providerErrorTotal,
		m.tokenRefreshTotal, m.processingLatency)
	return m
}

func (m *CalendarMetrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *CalendarMetrics) ObserveCallQueued(callType string) {
	if m == nil {
		return
	}
	m.callsQueuedTotal.WithLabelValues(callType).Inc()
}

func (m *CalendarMetrics) ObserveProviderError(provider, kind string) {
	if m == nil {
		return
	}
	m.providerErrorTotal.WithLabelValues(provider, kind).Inc()
}

func (m *CalendarMetrics) ObserveTokenRefresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *CalendarMetrics) ObserveProcessing(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(provider).Observe(seconds)
}
