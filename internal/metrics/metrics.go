// Package metrics exposes Prometheus counters and histograms for SalesPipe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the webhook pipeline.
type Metrics struct {
	webhookTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	agentRuns      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salespipe",
			Name:      "webhook_events_total",
			Help:      "Total inbound Evolution webhooks by modality and outcome",
		}, []string{"modality", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salespipe",
			Name:      "outbound_sends_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salespipe",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"modality"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salespipe",
			Name:      "agent_runs_total",
			Help:      "Total agent runs by entry agent and outcome",
		}, []string{"agent", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.outboundTotal, m.webhookLatency, m.agentRuns)
	return m
}

func (m *Metrics) ObserveWebhook(modality, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(modality, status).Inc()
}

// ObserveOutbound satisfies messaging.SendObserver.
func (m *Metrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveLatency(modality string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(modality).Observe(seconds)
}

func (m *Metrics) ObserveAgentRun(agent, status string) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(agent, status).Inc()
}
