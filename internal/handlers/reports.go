package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/services"
)

type dailyAmountPayload struct {
	Day    string `json:"day"`
	Amount int64  `json:"amount"`
}

type turnoverResponse struct {
	Days  []dailyAmountPayload `json:"days"`
	Total int64                `json:"total"`
}

type dailyOrdersPayload struct {
	Day   string `json:"day"`
	Total int    `json:"total"`
	Valid int    `json:"valid"`
}

type orderStatsResponse struct {
	Days           []dailyOrdersPayload `json:"days"`
	TotalOrders    int                  `json:"total_orders"`
	ValidOrders    int                  `json:"valid_orders"`
	CompletionRate float64              `json:"completion_rate"`
}

type salesEntryPayload struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type topSalesResponse struct {
	Items []salesEntryPayload `json:"items"`
}

type businessResponse struct {
	Turnover       int64   `json:"turnover"`
	ValidOrders    int     `json:"valid_orders"`
	TotalOrders    int     `json:"total_orders"`
	CompletionRate float64 `json:"completion_rate"`
	UnitPrice      int64   `json:"unit_price"`
}

// ReportHandlers exposes merchant reporting endpoints.
type ReportHandlers struct {
	authn   *auth.Authenticator
	reports services.ReportService
	loc     *time.Location
}

// NewReportHandlers constructs report handlers. Dates in queries are read in loc.
func NewReportHandlers(authn *auth.Authenticator, reports services.ReportService, loc *time.Location) *ReportHandlers {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportHandlers{authn: authn, reports: reports, loc: loc}
}

// Routes registers the /admin/reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/reports", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireMerchant())
		}
		rt.Get("/turnover", h.turnover)
		rt.Get("/orders", h.orderStats)
		rt.Get("/top-sales", h.topSales)
		rt.Get("/business", h.business)
	})
}

func (h *ReportHandlers) turnover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok := h.rangeCommand(w, r)
	if !ok {
		return
	}
	report, err := h.reports.Turnover(ctx, rng)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	resp := turnoverResponse{Days: make([]dailyAmountPayload, 0, len(report.Days)), Total: report.Total}
	for _, day := range report.Days {
		resp.Days = append(resp.Days, dailyAmountPayload{Day: day.Day.Format(time.DateOnly), Amount: day.Amount})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ReportHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok := h.rangeCommand(w, r)
	if !ok {
		return
	}
	report, err := h.reports.OrderStats(ctx, rng)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	resp := orderStatsResponse{
		Days:           make([]dailyOrdersPayload, 0, len(report.Days)),
		TotalOrders:    report.TotalOrders,
		ValidOrders:    report.ValidOrders,
		CompletionRate: report.CompletionRate,
	}
	for _, day := range report.Days {
		resp.Days = append(resp.Days, dailyOrdersPayload{Day: day.Day.Format(time.DateOnly), Total: day.Total, Valid: day.Valid})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ReportHandlers) topSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok := h.rangeCommand(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	entries, err := h.reports.TopSales(ctx, rng, limit)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	resp := topSalesResponse{Items: make([]salesEntryPayload, 0, len(entries))}
	for _, entry := range entries {
		resp.Items = append(resp.Items, salesEntryPayload{Name: entry.Name, Quantity: entry.Quantity})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ReportHandlers) business(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok := h.rangeCommand(w, r)
	if !ok {
		return
	}
	snapshot, err := h.reports.BusinessSnapshot(ctx, rng)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, businessResponse{
		Turnover:       snapshot.Turnover,
		ValidOrders:    snapshot.ValidOrders,
		TotalOrders:    snapshot.TotalOrders,
		CompletionRate: snapshot.CompletionRate,
		UnitPrice:      snapshot.UnitPrice,
	})
}

// rangeCommand reads begin and end as YYYY-MM-DD. A missing end defaults to begin.
func (h *ReportHandlers) rangeCommand(w http.ResponseWriter, r *http.Request) (services.ReportRangeCommand, bool) {
	ctx := r.Context()
	if h.reports == nil {
		writeServiceUnavailable(ctx, w, "report")
		return services.ReportRangeCommand{}, false
	}
	query := r.URL.Query()
	beginRaw := strings.TrimSpace(query.Get("begin"))
	if beginRaw == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "begin is required", http.StatusBadRequest))
		return services.ReportRangeCommand{}, false
	}
	begin, err := time.ParseInLocation(time.DateOnly, beginRaw, h.loc)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "begin must be a YYYY-MM-DD date", http.StatusBadRequest))
		return services.ReportRangeCommand{}, false
	}
	end := begin
	if endRaw := strings.TrimSpace(query.Get("end")); endRaw != "" {
		end, err = time.ParseInLocation(time.DateOnly, endRaw, h.loc)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "end must be a YYYY-MM-DD date", http.StatusBadRequest))
			return services.ReportRangeCommand{}, false
		}
	}
	return services.ReportRangeCommand{Start: begin, End: end}, true
}
