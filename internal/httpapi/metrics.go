package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry        *prometheus.Registry
	webhookRequests *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	webhookRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sms_mcp",
		Name:      "webhook_requests_total",
		Help:      "Webhook requests by handler and outcome.",
	}, []string{"handler", "outcome"})
	reg.MustRegister(webhookRequests)

	return &metrics{registry: reg, webhookRequests: webhookRequests}
}

func (m *metrics) observe(handler string, outcome string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(handler, outcome).Inc()
}
