package repositories

import (
	"context"
	"time"

	domain "github.com/skydish/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
// Repositories called with the context passed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings for customers and merchants.
type OrderListFilter struct {
	UserID     string
	Number     string
	Phone      string
	Statuses   []domain.OrderStatus
	OrderedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderRepository persists orders and their lines.
type OrderRepository interface {
	// Insert stores the order header. A duplicate order number yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	// InsertLines batch-inserts the immutable lines of an order.
	InsertLines(ctx context.Context, lines []domain.OrderLine) error
	// Update writes mutable fields when the stored version matches order.Version and bumps it.
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIDForUpdate locks the row for the remainder of the ambient transaction.
	FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumberForUpdate(ctx context.Context, number string) (domain.Order, error)
	FindByPaymentRefForUpdate(ctx context.Context, paymentRef string) (domain.Order, error)
	ListLines(ctx context.Context, orderIDs ...string) (map[string][]domain.OrderLine, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	// ListStale returns ids of orders in status whose order time is strictly before cutoff.
	ListStale(ctx context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]string, error)
	CountByStatus(ctx context.Context) (domain.StatusCounts, error)
}

// CartRepository persists cart lines keyed by user.
type CartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error)
	Insert(ctx context.Context, lines ...domain.CartLine) error
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	Delete(ctx context.Context, lineID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// CatalogReader resolves dish and combo price snapshots.
type CatalogReader interface {
	FindItem(ctx context.Context, kind domain.CatalogKind, id string) (domain.CatalogItem, error)
}

// AddressRepository reads entries from the user's address book.
type AddressRepository interface {
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
}

// ReportRange bounds report queries. From is inclusive, To is exclusive.
type ReportRange struct {
	From     time.Time
	To       time.Time
	Location *time.Location
}

// ReportRepository aggregates completed and submitted orders per day.
type ReportRepository interface {
	DailyTurnover(ctx context.Context, r ReportRange) ([]domain.DailyAmount, error)
	DailyOrderCounts(ctx context.Context, r ReportRange) ([]domain.DailyOrderCount, error)
	TopSales(ctx context.Context, r ReportRange, limit int) ([]domain.SalesEntry, error)
}

// HealthRepository reports connectivity of backing services for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
