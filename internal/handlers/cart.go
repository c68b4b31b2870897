package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/services"
)

const maxCartBodySize = 4 * 1024

type cartItemRequest struct {
	DishID  string `json:"dish_id"`
	ComboID string `json:"combo_id"`
	Flavor  string `json:"flavor"`
}

type cartLineResponse struct {
	Line cartLinePayload `json:"line"`
}

// CartHandlers exposes the current user's cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Post("/items:decrement", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.ListCart(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	line, err := h.carts.AddItem(ctx, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartLineResponse{Line: buildCartLine(line)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.itemCommand(w, r)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(ctx, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.ClearCart(ctx, identity.UID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) itemCommand(w http.ResponseWriter, r *http.Request) (services.CartItemCommand, bool) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return services.CartItemCommand{}, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return services.CartItemCommand{}, false
	}
	var req cartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return services.CartItemCommand{}, false
	}
	return services.CartItemCommand{
		UserID:  identity.UID,
		DishID:  req.DishID,
		ComboID: req.ComboID,
		Flavor:  req.Flavor,
	}, true
}
