package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/repositories"
)

const (
	defaultUnpaidTimeout   = 15 * time.Minute
	defaultDeliveryTimeout = 60 * time.Minute
	defaultSweepBatchSize  = 500

	sweepUnpaid     = "unpaid"
	sweepDeliveries = "deliveries"
)

// SweeperDeps wires the reconciliation sweeper.
type SweeperDeps struct {
	Orders          repositories.OrderRepository
	Lifecycle       OrderService
	UnpaidTimeout   time.Duration
	DeliveryTimeout time.Duration
	BatchSize       int
	Clock           func() time.Time
	Meter           metric.Meter
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationSweeper struct {
	orders          repositories.OrderRepository
	lifecycle       OrderService
	unpaidTimeout   time.Duration
	deliveryTimeout time.Duration
	batchSize       int
	clock           func() time.Time
	outcomes        metric.Int64Counter
	logger          func(context.Context, string, map[string]any)
}

var _ ReconciliationSweeper = (*reconciliationSweeper)(nil)

// NewReconciliationSweeper constructs the sweeper. It keeps no state between runs.
func NewReconciliationSweeper(deps SweeperDeps) (ReconciliationSweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("sweeper: order repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("sweeper: order service is required")
	}

	unpaid := deps.UnpaidTimeout
	if unpaid <= 0 {
		unpaid = defaultUnpaidTimeout
	}
	delivery := deps.DeliveryTimeout
	if delivery <= 0 {
		delivery = defaultDeliveryTimeout
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("github.com/skydish/api/internal/services")
	}
	outcomes, err := meter.Int64Counter("sweeper.orders",
		metric.WithDescription("Orders examined by the reconciliation sweeper, by sweep and outcome."))
	if err != nil {
		return nil, err
	}

	return &reconciliationSweeper{
		orders:          deps.Orders,
		lifecycle:       deps.Lifecycle,
		unpaidTimeout:   unpaid,
		deliveryTimeout: delivery,
		batchSize:       batch,
		clock:           func() time.Time { return clock().UTC() },
		outcomes:        outcomes,
		logger:          logger,
	}, nil
}

// SweepUnpaid cancels PendingPayment orders older than the unpaid timeout.
func (s *reconciliationSweeper) SweepUnpaid(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock().Add(-s.unpaidTimeout)
	return s.sweep(ctx, sweepUnpaid, domain.OrderStatusPendingPayment, cutoff, s.lifecycle.ExpireUnpaid)
}

// SweepStuckDeliveries completes DeliveryInProgress orders older than the delivery timeout.
func (s *reconciliationSweeper) SweepStuckDeliveries(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock().Add(-s.deliveryTimeout)
	return s.sweep(ctx, sweepDeliveries, domain.OrderStatusDeliveryInProgress, cutoff, s.lifecycle.ForceComplete)
}

func (s *reconciliationSweeper) sweep(
	ctx context.Context,
	name string,
	status domain.OrderStatus,
	cutoff time.Time,
	apply func(context.Context, string, time.Time) (Order, error),
) (SweepResult, error) {
	ids, err := s.orders.ListStale(ctx, status, cutoff, s.batchSize)
	if err != nil {
		s.logger(ctx, "sweeper.list.failed", map[string]any{"sweep": name, "error": err.Error()})
		return SweepResult{}, mapOrderRepositoryError(err)
	}

	result := SweepResult{Matched: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := apply(ctx, id, cutoff)
		switch {
		case err == nil:
			result.Applied++
			s.record(ctx, name, "applied")
		case errors.Is(err, ErrOrderStatus), errors.Is(err, ErrOrderConflict), errors.Is(err, ErrOrderNotFound):
			result.Skipped++
			s.record(ctx, name, "skipped")
		default:
			result.Failed++
			s.record(ctx, name, "failed")
			s.logger(ctx, "sweeper.order.failed", map[string]any{
				"sweep":   name,
				"orderId": id,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "sweeper.completed", map[string]any{
		"sweep":   name,
		"cutoff":  cutoff,
		"matched": result.Matched,
		"applied": result.Applied,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})
	return result, nil
}

func (s *reconciliationSweeper) record(ctx context.Context, sweep, outcome string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sweep", sweep),
		attribute.String("outcome", outcome),
	))
}
