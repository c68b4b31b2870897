package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/services"
)

type pagePayload[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                  string             `json:"id"`
	Number              string             `json:"number"`
	UserID              string             `json:"user_id"`
	AddressBookID       string             `json:"address_book_id"`
	Consignee           string             `json:"consignee"`
	Phone               string             `json:"phone"`
	Address             string             `json:"address"`
	Status              int                `json:"status"`
	StatusName          string             `json:"status_name"`
	PayStatus           string             `json:"pay_status"`
	Amount              int64              `json:"amount"`
	PackAmount          int64              `json:"pack_amount"`
	Currency            string             `json:"currency"`
	Remark              string             `json:"remark,omitempty"`
	TablewareNumber     int                `json:"tableware_number"`
	EstimatedDeliveryAt string             `json:"estimated_delivery_at,omitempty"`
	OrderedAt           string             `json:"ordered_at"`
	CheckoutAt          string             `json:"checkout_at,omitempty"`
	CancelReason        string             `json:"cancel_reason,omitempty"`
	RejectionReason     string             `json:"rejection_reason,omitempty"`
	CancelledAt         string             `json:"cancelled_at,omitempty"`
	DeliveredAt         string             `json:"delivered_at,omitempty"`
	DishesSummary       string             `json:"dishes_summary,omitempty"`
	Lines               []orderLinePayload `json:"lines"`
}

type orderLinePayload struct {
	ID         string `json:"id"`
	DishID     string `json:"dish_id,omitempty"`
	ComboID    string `json:"combo_id,omitempty"`
	Name       string `json:"name"`
	Flavor     string `json:"flavor,omitempty"`
	Image      string `json:"image,omitempty"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
	Amount     int64  `json:"amount"`
}

type cartPayload struct {
	UserID string            `json:"user_id"`
	Lines  []cartLinePayload `json:"lines"`
	Total  int64             `json:"total"`
}

type cartLinePayload struct {
	ID         string `json:"id"`
	DishID     string `json:"dish_id,omitempty"`
	ComboID    string `json:"combo_id,omitempty"`
	Name       string `json:"name"`
	Flavor     string `json:"flavor,omitempty"`
	Image      string `json:"image,omitempty"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
	Amount     int64  `json:"amount"`
	CreatedAt  string `json:"created_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		Number:              order.Number,
		UserID:              order.UserID,
		AddressBookID:       order.AddressBookID,
		Consignee:           order.Delivery.Consignee,
		Phone:               order.Delivery.Phone,
		Address:             order.Delivery.Address,
		Status:              order.Status.Code(),
		StatusName:          order.Status.String(),
		PayStatus:           string(order.PayStatus),
		Amount:              order.Amount,
		PackAmount:          order.PackAmount,
		Currency:            strings.ToUpper(order.Currency),
		Remark:              order.Remark,
		TablewareNumber:     order.TablewareNumber,
		EstimatedDeliveryAt: formatOptionalTime(order.EstimatedDeliveryAt),
		OrderedAt:           formatTime(order.OrderedAt),
		CheckoutAt:          formatOptionalTime(order.CheckoutAt),
		CancelReason:        order.CancelReason,
		RejectionReason:     order.RejectionReason,
		CancelledAt:         formatOptionalTime(order.CancelledAt),
		DeliveredAt:         formatOptionalTime(order.DeliveredAt),
		Lines:               make([]orderLinePayload, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:         line.ID,
			DishID:     line.DishID,
			ComboID:    line.ComboID,
			Name:       line.Name,
			Flavor:     line.Flavor,
			Image:      line.Image,
			UnitAmount: line.UnitAmount,
			Quantity:   line.Quantity,
			Amount:     line.Amount,
		})
	}
	return payload
}

func buildCartPayload(view services.CartView) cartPayload {
	return cartPayload{
		UserID: view.UserID,
		Lines:  buildCartLines(view.Lines),
		Total:  view.Total,
	}
}

func buildCartLines(lines []services.CartLine) []cartLinePayload {
	result := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		result = append(result, buildCartLine(line))
	}
	return result
}

func buildCartLine(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		ID:         line.ID,
		DishID:     line.DishID,
		ComboID:    line.ComboID,
		Name:       line.Name,
		Flavor:     line.Flavor,
		Image:      line.Image,
		UnitAmount: line.UnitAmount,
		Quantity:   line.Quantity,
		Amount:     line.Amount(),
		CreatedAt:  formatTime(line.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return nil, false
	}
	return identity, true
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderID"))
}

type queryError struct {
	message string
}

func (e queryError) Error() string { return e.message }

func parsePagination(query url.Values) (domain.Pagination, error) {
	var p domain.Pagination
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return p, queryError{"page must be a positive integer"}
		}
		p.Page = page
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return p, queryError{"page_size must be a positive integer"}
		}
		p.PageSize = size
	}
	return p, nil
}

// parseStatuses accepts repeated or comma separated status values given as codes or names.
func parseStatuses(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	seen := make(map[domain.OrderStatus]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				return nil, queryError{"unknown order status " + strconv.Quote(part)}
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func parseOptionalTime(query url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, queryError{key + " must be a valid RFC3339 timestamp"}
	}
	return &ts, nil
}
