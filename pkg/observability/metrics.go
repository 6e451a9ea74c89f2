package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const engineMeterName = "github.com/Alijeyrad/carebook_backend/engine"

// EngineMetrics counts engine outcomes. A nil *EngineMetrics is a valid no-op.
type EngineMetrics struct {
	transitions     metric.Int64Counter
	reconciliations metric.Int64Counter
	ledger          metric.Int64Counter
	payouts         metric.Int64Counter
	normalizer      metric.Int64Counter
	jobs            metric.Int64Counter
}

// NewEngineMetrics registers the counters on the global meter provider. It
// must run after InitTelemetry for the counters to reach the exporter.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter(engineMeterName)
	m := &EngineMetrics{}
	var err error

	if m.transitions, err = meter.Int64Counter("engine_status_transitions_total",
		metric.WithDescription("Appointment status transitions by outcome")); err != nil {
		return nil, err
	}
	if m.reconciliations, err = meter.Int64Counter("engine_payment_reconciliations_total",
		metric.WithDescription("Payment reconciliations by source and status")); err != nil {
		return nil, err
	}
	if m.ledger, err = meter.Int64Counter("engine_ledger_mutations_total",
		metric.WithDescription("Balance ledger mutations by action and outcome")); err != nil {
		return nil, err
	}
	if m.payouts, err = meter.Int64Counter("engine_payouts_total",
		metric.WithDescription("Therapist payouts by phase")); err != nil {
		return nil, err
	}
	if m.normalizer, err = meter.Int64Counter("engine_recurring_entries_total",
		metric.WithDescription("Recurring entries converted or skipped by the normalizer")); err != nil {
		return nil, err
	}
	if m.jobs, err = meter.Int64Counter("engine_job_runs_total",
		metric.WithDescription("Scheduled job runs by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) Transition(ctx context.Context, from, to, role, outcome string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("role", role),
		attribute.String("outcome", outcome),
	))
}

func (m *EngineMetrics) Reconciliation(ctx context.Context, source, status string) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

func (m *EngineMetrics) LedgerMutation(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.ledger.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (m *EngineMetrics) Payout(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.payouts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func (m *EngineMetrics) Normalized(ctx context.Context, converted, skipped int) {
	if m == nil {
		return
	}
	if converted > 0 {
		m.normalizer.Add(ctx, int64(converted), metric.WithAttributes(attribute.String("result", "converted")))
	}
	if skipped > 0 {
		m.normalizer.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("result", "skipped")))
	}
}

func (m *EngineMetrics) JobRun(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
}
