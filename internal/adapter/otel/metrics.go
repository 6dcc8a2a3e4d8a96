package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sandboxer"

// Metrics holds all sandboxer metric instruments.
type Metrics struct {
	SessionsCreated metric.Int64Counter
	SessionsKilled  metric.Int64Counter
	SessionsAdopted metric.Int64Counter
	TurnsStarted    metric.Int64Counter
	TurnsCompleted  metric.Int64Counter
	TurnsFailed     metric.Int64Counter
	TurnDuration    metric.Float64Histogram
	TurnCost        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsCreated, err = meter.Int64Counter("sandboxer.sessions.created",
		metric.WithDescription("Number of sessions created"))
	if err != nil {
		return nil, err
	}

	m.SessionsKilled, err = meter.Int64Counter("sandboxer.sessions.killed",
		metric.WithDescription("Number of sessions killed"))
	if err != nil {
		return nil, err
	}

	m.SessionsAdopted, err = meter.Int64Counter("sandboxer.sessions.adopted",
		metric.WithDescription("Number of untracked panes adopted into the registry"))
	if err != nil {
		return nil, err
	}

	m.TurnsStarted, err = meter.Int64Counter("sandboxer.turns.started",
		metric.WithDescription("Number of chat turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("sandboxer.turns.completed",
		metric.WithDescription("Number of chat turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("sandboxer.turns.failed",
		metric.WithDescription("Number of chat turns failed"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("sandboxer.turn.duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TurnCost, err = meter.Float64Histogram("sandboxer.turn.cost_usd",
		metric.WithDescription("Chat turn cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
