package domain

import (
	"time"
)

// Pagination defines offset-based paging inputs for list operations.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the zero-based row offset for the requested page.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Page wraps a slice of results with the total number of matching rows.
type Page[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates the lifecycle states of a food order.
type OrderStatus int

const (
	// OrderStatusPendingPayment is the initial state after submission.
	OrderStatusPendingPayment OrderStatus = 1
	// OrderStatusToBeConfirmed means the order is paid and awaits the merchant.
	OrderStatusToBeConfirmed OrderStatus = 2
	// OrderStatusConfirmed means the merchant accepted the order.
	OrderStatusConfirmed OrderStatus = 3
	// OrderStatusDeliveryInProgress means the order left the kitchen.
	OrderStatusDeliveryInProgress OrderStatus = 4
	// OrderStatusCompleted is terminal.
	OrderStatusCompleted OrderStatus = 5
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = 6
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusPendingPayment:     "pending_payment",
	OrderStatusToBeConfirmed:      "to_be_confirmed",
	OrderStatusConfirmed:          "confirmed",
	OrderStatusDeliveryInProgress: "delivery_in_progress",
	OrderStatusCompleted:          "completed",
	OrderStatusCancelled:          "cancelled",
}

// String returns the wire name of the status.
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Code returns the numeric status code exposed to clients.
func (s OrderStatus) Code() int { return int(s) }

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// ParseOrderStatus accepts either the numeric code or the wire name.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	for status, name := range orderStatusNames {
		if name == value {
			return status, true
		}
	}
	switch value {
	case "1", "2", "3", "4", "5", "6":
		status := OrderStatus(value[0] - '0')
		return status, true
	}
	return 0, false
}

// PayStatus tracks the payment side of an order independently of its lifecycle.
type PayStatus string

const (
	PayStatusUnpaid   PayStatus = "unpaid"
	PayStatusPaid     PayStatus = "paid"
	PayStatusRefunded PayStatus = "refunded"
)

// Audit records who created and last touched a row.
type Audit struct {
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// NewAudit returns an audit stamp for a freshly inserted row.
func NewAudit(actor string, now time.Time) Audit {
	return Audit{CreatedAt: now, CreatedBy: actor, UpdatedAt: now, UpdatedBy: actor}
}

// Touch returns a copy with the update fields refreshed.
func (a Audit) Touch(actor string, now time.Time) Audit {
	a.UpdatedAt = now
	if actor != "" {
		a.UpdatedBy = actor
	}
	return a
}

// DeliverySnapshot freezes the recipient fields copied from the address book at submission.
type DeliverySnapshot struct {
	Consignee string
	Phone     string
	Address   string
}

// Order is a customer order and its payment state.
type Order struct {
	ID                  string
	Number              string
	UserID              string
	AddressBookID       string
	Delivery            DeliverySnapshot
	Amount              int64
	PackAmount          int64
	Currency            string
	Status              OrderStatus
	PayStatus           PayStatus
	PaymentRef          string
	Remark              string
	TablewareNumber     int
	EstimatedDeliveryAt *time.Time
	OrderedAt           time.Time
	CheckoutAt          *time.Time
	CancelReason        string
	RejectionReason     string
	CancelledAt         *time.Time
	DeliveredAt         *time.Time
	Audit               Audit
	Version             int64
	Lines               []OrderLine
}

// OrderLine is an immutable snapshot of one purchased item.
type OrderLine struct {
	ID         string
	OrderID    string
	DishID     string
	ComboID    string
	Name       string
	Flavor     string
	Image      string
	UnitAmount int64
	Quantity   int
	Amount     int64
}

// CartLine is an unsubmitted item in a user's cart.
type CartLine struct {
	ID         string
	UserID     string
	DishID     string
	ComboID    string
	Flavor     string
	Name       string
	Image      string
	UnitAmount int64
	Quantity   int
	CreatedAt  time.Time
}

// Amount returns the line total in minor units.
func (l CartLine) Amount() int64 {
	return l.UnitAmount * int64(l.Quantity)
}

// SameItem reports whether two lines refer to the same dish or combo with the same flavor.
func (l CartLine) SameItem(dishID, comboID, flavor string) bool {
	return l.DishID == dishID && l.ComboID == comboID && l.Flavor == flavor
}

// Address is a read-only address book entry owned by a user.
type Address struct {
	ID        string
	UserID    string
	Consignee string
	Phone     string
	Province  string
	City      string
	District  string
	Detail    string
	Label     string
	IsDefault bool
}

// FullText concatenates the administrative parts and the street detail.
func (a Address) FullText() string {
	return a.Province + a.City + a.District + a.Detail
}

// CatalogItem is the price snapshot of a dish or combo read when adding to the cart.
type CatalogItem struct {
	ID         string
	Kind       CatalogKind
	Name       string
	Image      string
	UnitAmount int64
	Available  bool
}

// CatalogKind distinguishes dishes from combos.
type CatalogKind string

const (
	CatalogKindDish  CatalogKind = "dish"
	CatalogKindCombo CatalogKind = "combo"
)

// StatusCounts summarises orders awaiting merchant work.
type StatusCounts struct {
	ToBeConfirmed      int
	Confirmed          int
	DeliveryInProgress int
}

// DailyAmount is one bucket of a per-day money series.
type DailyAmount struct {
	Day    time.Time
	Amount int64
}

// DailyOrderCount is one bucket of the per-day order counters.
type DailyOrderCount struct {
	Day   time.Time
	Total int
	Valid int
}

// SalesEntry is a named item with the quantity sold.
type SalesEntry struct {
	Name     string
	Quantity int
}

// Health status values reported by readiness checks.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of a single dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
