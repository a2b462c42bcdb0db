package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tiller"

// Metrics holds all Tiller metric instruments.
type Metrics struct {
	ActionsSubmitted metric.Int64Counter
	ActionsExecuted  metric.Int64Counter
	ActionsFailed    metric.Int64Counter
	ActionsRejected  metric.Int64Counter
	UndosRequested   metric.Int64Counter
	WindowsFinalized metric.Int64Counter
	TrustAdjustments metric.Int64Counter
	ExecuteDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ActionsSubmitted, err = meter.Int64Counter("tiller.actions.submitted",
		metric.WithDescription("Number of actions submitted"))
	if err != nil {
		return nil, err
	}

	m.ActionsExecuted, err = meter.Int64Counter("tiller.actions.executed",
		metric.WithDescription("Number of actions executed"))
	if err != nil {
		return nil, err
	}

	m.ActionsFailed, err = meter.Int64Counter("tiller.actions.failed",
		metric.WithDescription("Number of action executions that failed"))
	if err != nil {
		return nil, err
	}

	m.ActionsRejected, err = meter.Int64Counter("tiller.actions.rejected",
		metric.WithDescription("Number of actions rejected by the principal"))
	if err != nil {
		return nil, err
	}

	m.UndosRequested, err = meter.Int64Counter("tiller.undos.requested",
		metric.WithDescription("Number of undo requests that won their window"))
	if err != nil {
		return nil, err
	}

	m.WindowsFinalized, err = meter.Int64Counter("tiller.windows.finalized",
		metric.WithDescription("Number of undo windows finalized without an undo"))
	if err != nil {
		return nil, err
	}

	m.TrustAdjustments, err = meter.Int64Counter("tiller.trust.adjustments",
		metric.WithDescription("Number of trust score adjustments applied"))
	if err != nil {
		return nil, err
	}

	m.ExecuteDuration, err = meter.Float64Histogram("tiller.execute.duration_seconds",
		metric.WithDescription("Effector execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
