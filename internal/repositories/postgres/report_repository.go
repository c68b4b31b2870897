package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/skydish/api/internal/domain"
	ppg "github.com/skydish/api/internal/platform/postgres"
	"github.com/skydish/api/internal/repositories"
)

// ReportRepository aggregates orders per shop-local day. Days without orders are omitted.
type ReportRepository struct {
	db ppg.Querier
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(db ppg.Querier) (*ReportRepository, error) {
	if db == nil {
		return nil, errors.New("report repository: database is required")
	}
	return &ReportRepository{db: db}, nil
}

func (r *ReportRepository) DailyTurnover(ctx context.Context, rng repositories.ReportRange) ([]domain.DailyAmount, error) {
	loc := location(rng)
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT (ordered_at AT TIME ZONE $1)::date AS day, COALESCE(SUM(amount), 0)
		FROM orders
		WHERE status = $2 AND ordered_at >= $3 AND ordered_at < $4
		GROUP BY day ORDER BY day`,
		loc.String(), int16(domain.OrderStatusCompleted), rng.From, rng.To)
	if err != nil {
		return nil, ppg.WrapError("reports.turnover", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DailyAmount, error) {
		var (
			day    time.Time
			amount int64
		)
		err := row.Scan(&day, &amount)
		return domain.DailyAmount{Day: localDay(day, loc), Amount: amount}, err
	})
	return out, ppg.WrapError("reports.turnover", err)
}

func (r *ReportRepository) DailyOrderCounts(ctx context.Context, rng repositories.ReportRange) ([]domain.DailyOrderCount, error) {
	loc := location(rng)
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT (ordered_at AT TIME ZONE $1)::date AS day,
			COUNT(*), COUNT(*) FILTER (WHERE status = $2)
		FROM orders
		WHERE ordered_at >= $3 AND ordered_at < $4
		GROUP BY day ORDER BY day`,
		loc.String(), int16(domain.OrderStatusCompleted), rng.From, rng.To)
	if err != nil {
		return nil, ppg.WrapError("reports.order_counts", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DailyOrderCount, error) {
		var (
			day   time.Time
			count domain.DailyOrderCount
		)
		err := row.Scan(&day, &count.Total, &count.Valid)
		count.Day = localDay(day, loc)
		return count, err
	})
	return out, ppg.WrapError("reports.order_counts", err)
}

func (r *ReportRepository) TopSales(ctx context.Context, rng repositories.ReportRange, limit int) ([]domain.SalesEntry, error) {
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT l.name, SUM(l.quantity) AS sold
		FROM order_lines l JOIN orders o ON o.id = l.order_id
		WHERE o.status = $1 AND o.ordered_at >= $2 AND o.ordered_at < $3
		GROUP BY l.name ORDER BY sold DESC, l.name LIMIT $4`,
		int16(domain.OrderStatusCompleted), rng.From, rng.To, limit)
	if err != nil {
		return nil, ppg.WrapError("reports.top_sales", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SalesEntry, error) {
		var entry domain.SalesEntry
		err := row.Scan(&entry.Name, &entry.Quantity)
		return entry, err
	})
	return out, ppg.WrapError("reports.top_sales", err)
}

// location returns the zone days are bucketed in. The process-local zone has no name
// Postgres understands, so it reports in UTC.
func location(rng repositories.ReportRange) *time.Location {
	if rng.Location == nil || rng.Location == time.Local || rng.Location.String() == "Local" {
		return time.UTC
	}
	return rng.Location
}

// localDay re-anchors a DATE scanned as UTC midnight to midnight in loc.
func localDay(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}
