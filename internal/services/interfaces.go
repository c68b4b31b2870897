package services

import (
	"context"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/repositories"
)

// Domain type aliases keep service signatures readable.
type (
	Order           = domain.Order
	OrderLine       = domain.OrderLine
	CartLine        = domain.CartLine
	StatusCounts    = domain.StatusCounts
	HealthReport    = domain.HealthReport
	PrepayToken     = payments.PrepayToken
	OrderListFilter = repositories.OrderListFilter
	PaymentGateway  = payments.Gateway
	GatewayNotice   = payments.Notification
)

// OrderService covers order submission, the status state machine and order queries.
type OrderService interface {
	SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (OrderSummary, error)

	ApplyPaymentNotification(ctx context.Context, notice GatewayNotice) (Order, error)
	ConfirmOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	RejectOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	CancelByUser(ctx context.Context, cmd UserOrderCommand) (Order, error)
	CancelByMerchant(ctx context.Context, cmd OrderActionCommand) (Order, error)
	DispatchOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	CompleteOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	// ExpireUnpaid and ForceComplete re-check status and order time under the row lock.
	ExpireUnpaid(ctx context.Context, orderID string, cutoff time.Time) (Order, error)
	ForceComplete(ctx context.Context, orderID string, cutoff time.Time) (Order, error)

	RequestPayment(ctx context.Context, cmd UserOrderCommand) (PrepayToken, error)
	Remind(ctx context.Context, cmd UserOrderCommand) error
	Reorder(ctx context.Context, cmd UserOrderCommand) ([]CartLine, error)

	GetOrder(ctx context.Context, cmd OrderReadCommand) (Order, error)
	ListUserOrders(ctx context.Context, filter UserOrderFilter) (domain.Page[Order], error)
	SearchOrders(ctx context.Context, filter AdminOrderFilter) (domain.Page[OrderView], error)
	StatusCounts(ctx context.Context) (StatusCounts, error)
}

// ReconciliationSweeper forces terminal transitions on orders stuck past a deadline.
type ReconciliationSweeper interface {
	SweepUnpaid(ctx context.Context) (SweepResult, error)
	SweepStuckDeliveries(ctx context.Context) (SweepResult, error)
}

// CartService manages the current user's cart lines.
type CartService interface {
	ListCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (CartLine, error)
	RemoveItem(ctx context.Context, cmd CartItemCommand) (CartView, error)
	ClearCart(ctx context.Context, userID string) error
}

// ReportService aggregates persisted orders into per-day series.
type ReportService interface {
	Turnover(ctx context.Context, rng ReportRangeCommand) (TurnoverReport, error)
	OrderStats(ctx context.Context, rng ReportRangeCommand) (OrderStatsReport, error)
	TopSales(ctx context.Context, rng ReportRangeCommand, limit int) ([]domain.SalesEntry, error)
	BusinessSnapshot(ctx context.Context, rng ReportRangeCommand) (BusinessSnapshot, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// SubmitOrderCommand converts the user's cart into a new order.
type SubmitOrderCommand struct {
	UserID              string
	AddressBookID       string
	Remark              string
	TablewareNumber     int
	PackAmount          int64
	EstimatedDeliveryAt *time.Time
}

// OrderSummary is returned after a successful submission.
type OrderSummary struct {
	ID        string
	Number    string
	Amount    int64
	OrderedAt time.Time
}

// OrderActionCommand drives a merchant-side transition.
type OrderActionCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// UserOrderCommand identifies an order owned by the calling user.
type UserOrderCommand struct {
	OrderID string
	UserID  string
}

// OrderReadCommand loads one order. An empty UserID skips the ownership check.
type OrderReadCommand struct {
	OrderID string
	UserID  string
}

// UserOrderFilter lists the caller's own orders.
type UserOrderFilter struct {
	UserID     string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// AdminOrderFilter searches all orders for merchant staff.
type AdminOrderFilter struct {
	Number     string
	Phone      string
	Statuses   []domain.OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// OrderView pairs an order with a compact description of its lines.
type OrderView struct {
	Order         Order
	DishesSummary string
}

// SweepResult counts the outcome of a single sweep run.
type SweepResult struct {
	Matched int
	Applied int
	Skipped int
	Failed  int
}

// CartItemCommand identifies a dish or combo with a flavor selection.
type CartItemCommand struct {
	UserID  string
	DishID  string
	ComboID string
	Flavor  string
}

// CartView is the cart with its computed total.
type CartView struct {
	UserID string
	Lines  []CartLine
	Total  int64
}

// ReportRangeCommand bounds a report by inclusive calendar days in the shop timezone.
type ReportRangeCommand struct {
	Start time.Time
	End   time.Time
}

// TurnoverReport is the per-day turnover of completed orders.
type TurnoverReport struct {
	Days  []domain.DailyAmount
	Total int64
}

// OrderStatsReport is the per-day order count series.
type OrderStatsReport struct {
	Days           []domain.DailyOrderCount
	TotalOrders    int
	ValidOrders    int
	CompletionRate float64
}

// BusinessSnapshot summarises a range for the merchant dashboard.
type BusinessSnapshot struct {
	Turnover       int64
	ValidOrders    int
	TotalOrders    int
	CompletionRate float64
	UnitPrice      int64
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemHealthReport extends the dependency report with build metadata.
type SystemHealthReport struct {
	HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
