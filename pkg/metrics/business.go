package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var checkoutOutcomes = &Metric{
	ID:          "checkoutOutcomes",
	Name:        "checkout_outcomes_total",
	Description: "Checkout initiations partitioned by outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

var webhookOutcomes = &Metric{
	ID:          "webhookOutcomes",
	Name:        "webhook_outcomes_total",
	Description: "Payment webhook deliveries partitioned by outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

var gatewayDur = &Metric{
	ID:          "gatewayDur",
	Name:        "gateway_dur_ms",
	Description: "Payment gateway call latency in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"op", "result"},
}

// Business holds the domain counters. A nil *Business is a valid no-op.
type Business struct {
	checkout *prometheus.CounterVec
	webhook  *prometheus.CounterVec
	gateway  *prometheus.HistogramVec
}

// NewBusiness registers the domain metrics on reg.
func NewBusiness(reg prometheus.Registerer) (*Business, error) {
	b := &Business{
		checkout: NewMetric(checkoutOutcomes, "academy").(*prometheus.CounterVec),
		webhook:  NewMetric(webhookOutcomes, "academy").(*prometheus.CounterVec),
		gateway:  NewMetric(gatewayDur, "academy").(*prometheus.HistogramVec),
	}
	for _, c := range []prometheus.Collector{b.checkout, b.webhook, b.gateway} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Business) CheckoutOutcome(outcome string) {
	if b == nil {
		return
	}
	b.checkout.WithLabelValues(outcome).Inc()
}

func (b *Business) WebhookOutcome(outcome string) {
	if b == nil {
		return
	}
	b.webhook.WithLabelValues(outcome).Inc()
}

func (b *Business) ObserveGateway(op, result string, ms float64) {
	if b == nil {
		return
	}
	b.gateway.WithLabelValues(op, result).Observe(ms)
}

func newDefaultBusiness() (*Business, error) {
	return NewBusiness(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultBusiness),
)
