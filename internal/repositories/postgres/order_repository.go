package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/skydish/api/internal/domain"
	ppg "github.com/skydish/api/internal/platform/postgres"
	"github.com/skydish/api/internal/repositories"
)

const orderColumns = `id, number, user_id, address_book_id, consignee, phone, address, amount, pack_amount,
	currency, status, pay_status, payment_ref, remark, tableware_number, estimated_delivery_at, ordered_at,
	checkout_at, cancel_reason, rejection_reason, cancelled_at, delivered_at, created_at, created_by,
	updated_at, updated_by, version`

const lineColumns = `id, order_id, dish_id, combo_id, name, flavor, image, unit_amount, quantity, amount`

// OrderRepository stores orders in Postgres.
type OrderRepository struct {
	db ppg.Querier
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(db ppg.Querier) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository: database is required")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	_, err := ppg.Conn(ctx, r.db).Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		order.ID, order.Number, order.UserID, order.AddressBookID,
		order.Delivery.Consignee, order.Delivery.Phone, order.Delivery.Address,
		order.Amount, order.PackAmount, order.Currency, int16(order.Status), string(order.PayStatus),
		order.PaymentRef, order.Remark, order.TablewareNumber, order.EstimatedDeliveryAt, order.OrderedAt,
		order.CheckoutAt, order.CancelReason, order.RejectionReason, order.CancelledAt, order.DeliveredAt,
		order.Audit.CreatedAt, order.Audit.CreatedBy, order.Audit.UpdatedAt, order.Audit.UpdatedBy, max(order.Version, 1),
	)
	return ppg.WrapError("orders.insert", err)
}

func (r *OrderRepository) InsertLines(ctx context.Context, lines []domain.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO order_lines (`+lineColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			line.ID, line.OrderID, line.DishID, line.ComboID, line.Name, line.Flavor, line.Image,
			line.UnitAmount, line.Quantity, line.Amount)
	}
	results := ppg.Conn(ctx, r.db).SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return ppg.WrapError("orders.lines.insert", err)
		}
	}
	return ppg.WrapError("orders.lines.insert", results.Close())
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	tag, err := ppg.Conn(ctx, r.db).Exec(ctx, `UPDATE orders SET
			status = $3, pay_status = $4, payment_ref = $5, checkout_at = $6, cancel_reason = $7,
			rejection_reason = $8, cancelled_at = $9, delivered_at = $10, updated_at = $11, updated_by = $12,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		order.ID, order.Version, int16(order.Status), string(order.PayStatus), order.PaymentRef, order.CheckoutAt,
		order.CancelReason, order.RejectionReason, order.CancelledAt, order.DeliveredAt,
		order.Audit.UpdatedAt, order.Audit.UpdatedBy,
	)
	if err != nil {
		return domain.Order{}, ppg.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, ppg.WrapError("orders.update", fmt.Errorf("order %s version %d: %w", order.ID, order.Version, ppg.ErrStaleVersion))
	}
	order.Version++
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get", `WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.lock", `WHERE id = $1 FOR UPDATE`, orderID)
}

func (r *OrderRepository) FindByNumberForUpdate(ctx context.Context, number string) (domain.Order, error) {
	return r.findOne(ctx, "orders.lock_by_number", `WHERE number = $1 FOR UPDATE`, number)
}

func (r *OrderRepository) FindByPaymentRefForUpdate(ctx context.Context, paymentRef string) (domain.Order, error) {
	return r.findOne(ctx, "orders.lock_by_payment_ref", `WHERE payment_ref = $1 AND payment_ref <> '' FOR UPDATE`, paymentRef)
}

func (r *OrderRepository) findOne(ctx context.Context, op, where string, arg any) (domain.Order, error) {
	row := ppg.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, ppg.WrapError(op, err)
	}
	return order, nil
}

func (r *OrderRepository) ListLines(ctx context.Context, orderIDs ...string) (map[string][]domain.OrderLine, error) {
	out := make(map[string][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, ppg.WrapError("orders.lines.list", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.DishID, &line.ComboID, &line.Name, &line.Flavor,
			&line.Image, &line.UnitAmount, &line.Quantity, &line.Amount); err != nil {
			return nil, ppg.WrapError("orders.lines.list", err)
		}
		out[line.OrderID] = append(out[line.OrderID], line)
	}
	return out, ppg.WrapError("orders.lines.list", rows.Err())
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	where, args := buildOrderFilter(filter)
	conn := ppg.Conn(ctx, r.db)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Order]{}, ppg.WrapError("orders.count", err)
	}

	page := domain.Page[domain.Order]{Total: total, Page: max(filter.Pagination.Page, 1), PageSize: filter.Pagination.PageSize}
	if total == 0 {
		return page, nil
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY ordered_at DESC, id DESC`
	if filter.Pagination.PageSize > 0 {
		args = append(args, filter.Pagination.PageSize, filter.Pagination.Offset())
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, ppg.WrapError("orders.list", err)
	}
	defer rows.Close()
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.Page[domain.Order]{}, ppg.WrapError("orders.list", err)
		}
		page.Items = append(page.Items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, ppg.WrapError("orders.list", err)
	}
	return page, nil
}

func (r *OrderRepository) ListStale(ctx context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT id FROM orders WHERE status = $1 AND ordered_at < $2 ORDER BY ordered_at LIMIT $3`,
		int16(status), cutoff, limit)
	if err != nil {
		return nil, ppg.WrapError("orders.stale", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, ppg.WrapError("orders.stale", err)
	}
	return ids, nil
}

func (r *OrderRepository) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	var counts domain.StatusCounts
	err := ppg.Conn(ctx, r.db).QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM orders WHERE status IN ($1, $2, $3)`,
		int16(domain.OrderStatusToBeConfirmed), int16(domain.OrderStatusConfirmed), int16(domain.OrderStatusDeliveryInProgress),
	).Scan(&counts.ToBeConfirmed, &counts.Confirmed, &counts.DeliveryInProgress)
	if err != nil {
		return domain.StatusCounts{}, ppg.WrapError("orders.status_counts", err)
	}
	return counts, nil
}

func buildOrderFilter(filter repositories.OrderListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if v := strings.TrimSpace(filter.UserID); v != "" {
		add("user_id = $%d", v)
	}
	if v := strings.TrimSpace(filter.Number); v != "" {
		add("number LIKE '%%' || $%d || '%%'", v)
	}
	if v := strings.TrimSpace(filter.Phone); v != "" {
		add("phone LIKE '%%' || $%d || '%%'", v)
	}
	if len(filter.Statuses) > 0 {
		codes := make([]int16, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			codes = append(codes, int16(s))
		}
		add("status = ANY($%d)", codes)
	}
	if filter.OrderedAt.From != nil {
		add("ordered_at >= $%d", *filter.OrderedAt.From)
	}
	if filter.OrderedAt.To != nil {
		add("ordered_at <= $%d", *filter.OrderedAt.To)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order     domain.Order
		status    int16
		payStatus string
	)
	err := row.Scan(
		&order.ID, &order.Number, &order.UserID, &order.AddressBookID,
		&order.Delivery.Consignee, &order.Delivery.Phone, &order.Delivery.Address,
		&order.Amount, &order.PackAmount, &order.Currency, &status, &payStatus,
		&order.PaymentRef, &order.Remark, &order.TablewareNumber, &order.EstimatedDeliveryAt, &order.OrderedAt,
		&order.CheckoutAt, &order.CancelReason, &order.RejectionReason, &order.CancelledAt, &order.DeliveredAt,
		&order.Audit.CreatedAt, &order.Audit.CreatedBy, &order.Audit.UpdatedAt, &order.Audit.UpdatedBy, &order.Version,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PayStatus = domain.PayStatus(payStatus)
	return order, nil
}
