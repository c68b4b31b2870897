package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/services"
)

const maxAdminActionBodySize = 4 * 1024

type orderActionRequest struct {
	Reason string `json:"reason"`
}

type statusCountsResponse struct {
	ToBeConfirmed      int `json:"to_be_confirmed"`
	Confirmed          int `json:"confirmed"`
	DeliveryInProgress int `json:"delivery_in_progress"`
}

// AdminOrderHandlers exposes merchant order search and lifecycle actions.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs merchant order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireMerchant())
		}
		rt.Get("/", h.searchOrders)
		rt.Get("/statistics", h.statistics)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}:confirm", h.action(services.OrderService.ConfirmOrder))
		rt.Post("/{orderID}:reject", h.action(services.OrderService.RejectOrder))
		rt.Post("/{orderID}:cancel", h.action(services.OrderService.CancelByMerchant))
		rt.Post("/{orderID}:dispatch", h.action(services.OrderService.DispatchOrder))
		rt.Post("/{orderID}:complete", h.action(services.OrderService.CompleteOrder))
	})
}

func (h *AdminOrderHandlers) searchOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	query := r.URL.Query()
	filter := services.AdminOrderFilter{
		Number: query.Get("number"),
		Phone:  query.Get("phone"),
	}
	var err error
	if filter.Pagination, err = parsePagination(query); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if filter.Statuses, err = parseStatuses(query["status"]); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if filter.From, err = parseOptionalTime(query, "begin_time"); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if filter.To, err = parseOptionalTime(query, "end_time"); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.SearchOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, view := range page.Items {
		payload := buildOrderPayload(view.Order)
		payload.DishesSummary = view.DishesSummary
		items = append(items, payload)
	}
	httpx.WriteJSON(w, http.StatusOK, pagePayload[orderPayload]{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *AdminOrderHandlers) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	counts, err := h.orders.StatusCounts(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusCountsResponse{
		ToBeConfirmed:      counts.ToBeConfirmed,
		Confirmed:          counts.Confirmed,
		DeliveryInProgress: counts.DeliveryInProgress,
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID := orderIDParam(r)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.GetOrder(ctx, services.OrderReadCommand{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderAction func(services.OrderService, context.Context, services.OrderActionCommand) (services.Order, error)

func (h *AdminOrderHandlers) action(apply orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			writeServiceUnavailable(ctx, w, "order")
			return
		}
		identity, ok := requireIdentity(ctx, w)
		if !ok {
			return
		}
		orderID := orderIDParam(r)
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
			return
		}
		var req orderActionRequest
		if err := httpx.DecodeJSON(r, maxAdminActionBodySize, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}

		order, err := apply(h.orders, ctx, services.OrderActionCommand{
			OrderID: orderID,
			ActorID: identity.UID,
			Reason:  req.Reason,
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}
