package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/c360/reliabus/metric"
)

// Response outcomes
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeMismatch    = "mismatch"
	OutcomeUnexpected  = "unexpected"
	OutcomeDecodeError = "decode_error"
	OutcomeIgnored     = "ignored"
)

// Metrics are the relay counters. A nil *Metrics records nothing.
type Metrics struct {
	RequestsSent *prometheus.CounterVec
	Responses    *prometheus.CounterVec
	SendErrors   *prometheus.CounterVec
	Pending      prometheus.Gauge
}

// NewMetrics creates the relay metrics and registers them with registrar
func NewMetrics(registrar metric.MetricsRegistrar) (*Metrics, error) {
	m := &Metrics{
		RequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "requests_sent_total",
			Help:      "Requests sent, by kind (new, resend)",
		}, []string{"kind"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "responses_total",
			Help:      "Messages read from the publisher subjects, by outcome",
		}, []string{"outcome"}),
		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "send_errors_total",
			Help:      "Failed send attempts, by stage (encode, transmit)",
		}, []string{"stage"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "pending_requests",
			Help:      "Requests sent and not yet resolved",
		}),
	}

	err := multierr.Combine(
		registrar.RegisterCounterVec("relay", "requests_sent_total", m.RequestsSent),
		registrar.RegisterCounterVec("relay", "responses_total", m.Responses),
		registrar.RegisterCounterVec("relay", "send_errors_total", m.SendErrors),
		registrar.RegisterGauge("relay", "pending_requests", m.Pending),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) sent(resend bool) {
	if m == nil {
		return
	}
	kind := "new"
	if resend {
		kind = "resend"
	}
	m.RequestsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) response(outcome string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) sendError(stage string) {
	if m == nil {
		return
	}
	m.SendErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) pending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
