package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/repositories"
)

const (
	maxReportDays        = 366
	defaultTopSalesLimit = 10
	maxTopSalesLimit     = 100
)

// ReportServiceDeps wires the report service.
type ReportServiceDeps struct {
	Reports  repositories.ReportRepository
	Location *time.Location
}

type reportService struct {
	reports repositories.ReportRepository
	loc     *time.Location
}

var _ ReportService = (*reportService)(nil)

// NewReportService constructs a ReportService bucketing days in the shop location.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Reports == nil {
		return nil, errors.New("report service: report repository is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &reportService{reports: deps.Reports, loc: loc}, nil
}

func (s *reportService) Turnover(ctx context.Context, cmd ReportRangeCommand) (TurnoverReport, error) {
	rng, days, err := s.resolveRange(cmd)
	if err != nil {
		return TurnoverReport{}, err
	}
	rows, err := s.reports.DailyTurnover(ctx, rng)
	if err != nil {
		return TurnoverReport{}, mapOrderRepositoryError(err)
	}

	byDay := make(map[string]int64, len(rows))
	for _, row := range rows {
		byDay[dayKey(row.Day)] = row.Amount
	}
	report := TurnoverReport{Days: make([]domain.DailyAmount, 0, len(days))}
	for _, day := range days {
		amount := byDay[dayKey(day)]
		report.Days = append(report.Days, domain.DailyAmount{Day: day, Amount: amount})
		report.Total += amount
	}
	return report, nil
}

func (s *reportService) OrderStats(ctx context.Context, cmd ReportRangeCommand) (OrderStatsReport, error) {
	rng, days, err := s.resolveRange(cmd)
	if err != nil {
		return OrderStatsReport{}, err
	}
	rows, err := s.reports.DailyOrderCounts(ctx, rng)
	if err != nil {
		return OrderStatsReport{}, mapOrderRepositoryError(err)
	}

	byDay := make(map[string]domain.DailyOrderCount, len(rows))
	for _, row := range rows {
		byDay[dayKey(row.Day)] = row
	}
	report := OrderStatsReport{Days: make([]domain.DailyOrderCount, 0, len(days))}
	for _, day := range days {
		row := byDay[dayKey(day)]
		row.Day = day
		report.Days = append(report.Days, row)
		report.TotalOrders += row.Total
		report.ValidOrders += row.Valid
	}
	report.CompletionRate = completionRate(report.ValidOrders, report.TotalOrders)
	return report, nil
}

func (s *reportService) TopSales(ctx context.Context, cmd ReportRangeCommand, limit int) ([]domain.SalesEntry, error) {
	rng, _, err := s.resolveRange(cmd)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultTopSalesLimit
	case limit > maxTopSalesLimit:
		limit = maxTopSalesLimit
	}
	entries, err := s.reports.TopSales(ctx, rng, limit)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	if entries == nil {
		entries = []domain.SalesEntry{}
	}
	return entries, nil
}

func (s *reportService) BusinessSnapshot(ctx context.Context, cmd ReportRangeCommand) (BusinessSnapshot, error) {
	turnover, err := s.Turnover(ctx, cmd)
	if err != nil {
		return BusinessSnapshot{}, err
	}
	stats, err := s.OrderStats(ctx, cmd)
	if err != nil {
		return BusinessSnapshot{}, err
	}
	snapshot := BusinessSnapshot{
		Turnover:       turnover.Total,
		ValidOrders:    stats.ValidOrders,
		TotalOrders:    stats.TotalOrders,
		CompletionRate: stats.CompletionRate,
	}
	if stats.ValidOrders > 0 {
		snapshot.UnitPrice = turnover.Total / int64(stats.ValidOrders)
	}
	return snapshot, nil
}

// resolveRange turns inclusive calendar days into a [from, to) window and the list of day buckets.
func (s *reportService) resolveRange(cmd ReportRangeCommand) (repositories.ReportRange, []time.Time, error) {
	if cmd.Start.IsZero() || cmd.End.IsZero() {
		return repositories.ReportRange{}, nil, fmt.Errorf("%w: start and end dates are required", ErrReportInvalidRange)
	}
	start := startOfDay(cmd.Start, s.loc)
	end := startOfDay(cmd.End, s.loc)
	if end.Before(start) {
		return repositories.ReportRange{}, nil, fmt.Errorf("%w: end date precedes start date", ErrReportInvalidRange)
	}

	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
		if len(days) > maxReportDays {
			return repositories.ReportRange{}, nil, fmt.Errorf("%w: range exceeds %d days", ErrReportInvalidRange, maxReportDays)
		}
	}
	return repositories.ReportRange{
		From:     start,
		To:       end.AddDate(0, 0, 1),
		Location: s.loc,
	}, days, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func completionRate(valid, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total)
}
