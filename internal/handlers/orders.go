package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/services"
)

const maxOrderBodySize = 8 * 1024

type submitOrderRequest struct {
	AddressBookID       string     `json:"address_book_id"`
	Remark              string     `json:"remark"`
	TablewareNumber     int        `json:"tableware_number"`
	PackAmount          int64      `json:"pack_amount"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at"`
}

type submitOrderResponse struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Amount    int64  `json:"amount"`
	OrderedAt string `json:"ordered_at"`
}

type prepayResponse struct {
	Provider     string `json:"provider"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	submitMW []func(http.Handler) http.Handler
}

// OrderHandlerOption customises order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithSubmitMiddlewares wraps only the order submission route, e.g. with idempotency.
func WithSubmitMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		for _, m := range mw {
			if m != nil {
				h.submitMW = append(h.submitMW, m)
			}
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(h.submitMW...).Post("/", h.submitOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:pay", h.payOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:reorder", h.reorder)
	r.Post("/{orderID}:remind", h.remind)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req submitOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.AddressBookID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address_book_id is required", http.StatusBadRequest))
		return
	}

	summary, err := h.orders.SubmitOrder(ctx, services.SubmitOrderCommand{
		UserID:              identity.UID,
		AddressBookID:       strings.TrimSpace(req.AddressBookID),
		Remark:              req.Remark,
		TablewareNumber:     req.TablewareNumber,
		PackAmount:          req.PackAmount,
		EstimatedDeliveryAt: req.EstimatedDeliveryAt,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+summary.ID)
	httpx.WriteJSON(w, http.StatusCreated, submitOrderResponse{
		ID:        summary.ID,
		Number:    summary.Number,
		Amount:    summary.Amount,
		OrderedAt: formatTime(summary.OrderedAt),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses, err := parseStatuses(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListUserOrders(ctx, services.UserOrderFilter{
		UserID:     identity.UID,
		Statuses:   statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, pagePayload[orderPayload]{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.userOrderCommand(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, services.OrderReadCommand{OrderID: cmd.OrderID, UserID: cmd.UserID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.userOrderCommand(w, r)
	if !ok {
		return
	}
	token, err := h.orders.RequestPayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, prepayResponse{
		Provider:     token.Provider,
		IntentID:     token.IntentID,
		ClientSecret: token.ClientSecret,
		Status:       token.Status,
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.userOrderCommand(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelByUser(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.userOrderCommand(w, r)
	if !ok {
		return
	}
	lines, err := h.orders.Reorder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	view := services.CartView{UserID: cmd.UserID, Lines: lines}
	for _, line := range lines {
		view.Total += line.Amount()
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(view))
}

func (h *OrderHandlers) remind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.userOrderCommand(w, r)
	if !ok {
		return
	}
	if err := h.orders.Remind(ctx, cmd); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *OrderHandlers) userOrderCommand(w http.ResponseWriter, r *http.Request) (services.UserOrderCommand, bool) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return services.UserOrderCommand{}, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return services.UserOrderCommand{}, false
	}
	orderID := orderIDParam(r)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.UserOrderCommand{}, false
	}
	return services.UserOrderCommand{OrderID: orderID, UserID: identity.UID}, true
}
