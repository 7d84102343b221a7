package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics counts checkout outcomes.
type Metrics struct {
	placed   metric.Int64Counter
	webhooks metric.Int64Counter
	releases metric.Int64Counter
}

// NewMetrics registers the checkout instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	placed, err := meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Order placement attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	webhooks, err := meter.Int64Counter("shop.payment.events",
		metric.WithDescription("Payment events by type and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payment events counter")
	}
	releases, err := meter.Int64Counter("shop.stock.releases",
		metric.WithDescription("Stock reservations returned to the catalog by cause"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "stock releases counter")
	}
	return &Metrics{placed: placed, webhooks: webhooks, releases: releases}, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

func (m *Metrics) orderPlaced(ctx context.Context, outcome string) {
	m.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) eventHandled(ctx context.Context, eventType string, outcome Outcome) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *Metrics) stockReleased(ctx context.Context, cause string) {
	m.releases.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}
