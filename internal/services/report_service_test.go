package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/repositories"
)

type stubReportRepo struct {
	turnoverFn func(context.Context, repositories.ReportRange) ([]domain.DailyAmount, error)
	countsFn   func(context.Context, repositories.ReportRange) ([]domain.DailyOrderCount, error)
	topSalesFn func(context.Context, repositories.ReportRange, int) ([]domain.SalesEntry, error)
}

func (s *stubReportRepo) DailyTurnover(ctx context.Context, r repositories.ReportRange) ([]domain.DailyAmount, error) {
	if s.turnoverFn != nil {
		return s.turnoverFn(ctx, r)
	}
	return nil, nil
}

func (s *stubReportRepo) DailyOrderCounts(ctx context.Context, r repositories.ReportRange) ([]domain.DailyOrderCount, error) {
	if s.countsFn != nil {
		return s.countsFn(ctx, r)
	}
	return nil, nil
}

func (s *stubReportRepo) TopSales(ctx context.Context, r repositories.ReportRange, limit int) ([]domain.SalesEntry, error) {
	if s.topSalesFn != nil {
		return s.topSalesFn(ctx, r, limit)
	}
	return nil, nil
}

func shanghai(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	return loc
}

func TestReportServiceTurnoverZeroFillsDays(t *testing.T) {
	loc := shanghai(t)
	var captured repositories.ReportRange
	repo := &stubReportRepo{
		turnoverFn: func(_ context.Context, r repositories.ReportRange) ([]domain.DailyAmount, error) {
			captured = r
			return []domain.DailyAmount{
				{Day: time.Date(2026, 3, 1, 0, 0, 0, 0, loc), Amount: 12000},
				{Day: time.Date(2026, 3, 3, 0, 0, 0, 0, loc), Amount: 3000},
			}, nil
		},
	}
	svc, err := NewReportService(ReportServiceDeps{Reports: repo, Location: loc})
	if err != nil {
		t.Fatalf("new report service: %v", err)
	}

	report, err := svc.Turnover(context.Background(), ReportRangeCommand{
		Start: time.Date(2026, 3, 1, 15, 0, 0, 0, loc),
		End:   time.Date(2026, 3, 3, 9, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("turnover: %v", err)
	}
	if len(report.Days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(report.Days))
	}
	if report.Days[1].Amount != 0 || report.Total != 15000 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !captured.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, loc)) || !captured.To.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected window %v - %v", captured.From, captured.To)
	}
	if captured.Location != loc {
		t.Fatalf("expected shop location to be passed through")
	}
}

func TestReportServiceRejectsInvalidRanges(t *testing.T) {
	svc, err := NewReportService(ReportServiceDeps{Reports: &stubReportRepo{}})
	if err != nil {
		t.Fatalf("new report service: %v", err)
	}
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	cases := map[string]ReportRangeCommand{
		"reversed":  {Start: start, End: start.AddDate(0, 0, -1)},
		"too long":  {Start: start, End: start.AddDate(0, 0, maxReportDays)},
		"zero time": {Start: start},
	}
	for name, rng := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.OrderStats(context.Background(), rng); !errors.Is(err, ErrReportInvalidRange) {
				t.Fatalf("expected invalid range, got %v", err)
			}
		})
	}

	if _, err := svc.OrderStats(context.Background(), ReportRangeCommand{Start: start, End: start.AddDate(0, 0, maxReportDays-1)}); err != nil {
		t.Fatalf("expected %d days to be accepted, got %v", maxReportDays, err)
	}
}

func TestReportServiceOrderStatsAndSnapshot(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubReportRepo{
		turnoverFn: func(context.Context, repositories.ReportRange) ([]domain.DailyAmount, error) {
			return []domain.DailyAmount{{Day: day, Amount: 9000}}, nil
		},
		countsFn: func(context.Context, repositories.ReportRange) ([]domain.DailyOrderCount, error) {
			return []domain.DailyOrderCount{
				{Day: day, Total: 4, Valid: 3},
				{Day: day.AddDate(0, 0, 1), Total: 1, Valid: 0},
			}, nil
		},
	}
	svc, err := NewReportService(ReportServiceDeps{Reports: repo})
	if err != nil {
		t.Fatalf("new report service: %v", err)
	}
	rng := ReportRangeCommand{Start: day, End: day.AddDate(0, 0, 1)}

	stats, err := svc.OrderStats(context.Background(), rng)
	if err != nil {
		t.Fatalf("order stats: %v", err)
	}
	if stats.TotalOrders != 5 || stats.ValidOrders != 3 || stats.CompletionRate != 0.6 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	snapshot, err := svc.BusinessSnapshot(context.Background(), rng)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Turnover != 9000 || snapshot.UnitPrice != 3000 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestReportServiceTopSalesLimit(t *testing.T) {
	var limits []int
	repo := &stubReportRepo{
		topSalesFn: func(_ context.Context, _ repositories.ReportRange, limit int) ([]domain.SalesEntry, error) {
			limits = append(limits, limit)
			return nil, nil
		},
	}
	svc, err := NewReportService(ReportServiceDeps{Reports: repo})
	if err != nil {
		t.Fatalf("new report service: %v", err)
	}
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rng := ReportRangeCommand{Start: day, End: day}

	for _, limit := range []int{0, 5, 500} {
		entries, err := svc.TopSales(context.Background(), rng, limit)
		if err != nil {
			t.Fatalf("top sales: %v", err)
		}
		if entries == nil {
			t.Fatalf("expected empty slice, got nil")
		}
	}
	if len(limits) != 3 || limits[0] != defaultTopSalesLimit || limits[1] != 5 || limits[2] != maxTopSalesLimit {
		t.Fatalf("unexpected limits %v", limits)
	}
}
