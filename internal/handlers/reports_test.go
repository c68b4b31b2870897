package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/services"
)

func TestReportHandlers_TurnoverParsesDatesInShopLocation(t *testing.T) {
	loc := time.FixedZone("shop", -5*3600)
	var captured services.ReportRangeCommand
	svc := &stubReportService{
		turnoverFn: func(_ context.Context, rng services.ReportRangeCommand) (services.TurnoverReport, error) {
			captured = rng
			return services.TurnoverReport{
				Days: []domain.DailyAmount{
					{Day: time.Date(2026, 3, 1, 0, 0, 0, 0, loc), Amount: 1200},
					{Day: time.Date(2026, 3, 2, 0, 0, 0, 0, loc), Amount: 0},
				},
				Total: 1200,
			}, nil
		},
	}
	router := newAdminRouter(NewReportHandlers(nil, svc, loc).Routes)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/reports/turnover?begin=2026-03-01&end=2026-03-02", nil), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, loc)) || !captured.End.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected range %+v", captured)
	}
	var resp turnoverResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1200 || len(resp.Days) != 2 || resp.Days[0].Day != "2026-03-01" {
		t.Fatalf("unexpected report %+v", resp)
	}
}

func TestReportHandlers_TopSalesLimitAndEndDefault(t *testing.T) {
	svc := &stubReportService{
		topFn: func(_ context.Context, rng services.ReportRangeCommand, limit int) ([]domain.SalesEntry, error) {
			if limit != 5 {
				t.Fatalf("expected limit 5, got %d", limit)
			}
			if !rng.Start.Equal(rng.End) {
				t.Fatalf("expected end to default to begin, got %+v", rng)
			}
			return []domain.SalesEntry{{Name: "Noodles", Quantity: 9}}, nil
		},
	}
	router := newAdminRouter(NewReportHandlers(nil, svc, nil).Routes)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/reports/top-sales?begin=2026-03-01&limit=5", nil), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp topSalesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Quantity != 9 {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestReportHandlers_InvalidRange(t *testing.T) {
	svc := &stubReportService{
		businessFn: func(context.Context, services.ReportRangeCommand) (services.BusinessSnapshot, error) {
			return services.BusinessSnapshot{}, services.ErrReportInvalidRange
		},
	}
	router := newAdminRouter(NewReportHandlers(nil, svc, nil).Routes)

	for _, query := range []string{"", "begin=03/01/2026", "begin=2026-03-02&end=2026-03-01"} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/reports/business?"+query, nil), "staff-1", auth.RoleStaff)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestReportHandlers_OrderStats(t *testing.T) {
	svc := &stubReportService{
		statsFn: func(context.Context, services.ReportRangeCommand) (services.OrderStatsReport, error) {
			return services.OrderStatsReport{
				Days:           []domain.DailyOrderCount{{Day: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Total: 4, Valid: 3}},
				TotalOrders:    4,
				ValidOrders:    3,
				CompletionRate: 0.75,
			}, nil
		},
	}
	router := newAdminRouter(NewReportHandlers(nil, svc, nil).Routes)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/reports/orders?begin=2026-03-01", nil), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp orderStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CompletionRate != 0.75 || resp.Days[0].Valid != 3 {
		t.Fatalf("unexpected stats %+v", resp)
	}
}
