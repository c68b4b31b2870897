package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/payments"
)

const (
	defaultOrderPageSize = 10
	maxOrderPageSize     = 100
)

var remindableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusToBeConfirmed: true,
	domain.OrderStatusConfirmed:     true,
}

func (s *orderService) GetOrder(ctx context.Context, cmd OrderReadCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	lines, err := s.orders.ListLines(ctx, order.ID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, filter UserOrderFilter) (domain.Page[Order], error) {
	userID := resolveUserID(ctx, filter.UserID)
	if userID == "" {
		return domain.Page[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, OrderListFilter{
		UserID:     userID,
		Statuses:   filter.Statuses,
		Pagination: normalisePagination(filter.Pagination),
	})
	if err != nil {
		return domain.Page[Order]{}, mapOrderRepositoryError(err)
	}
	if err := s.attachLines(ctx, page.Items); err != nil {
		return domain.Page[Order]{}, err
	}
	return page, nil
}

func (s *orderService) SearchOrders(ctx context.Context, filter AdminOrderFilter) (domain.Page[OrderView], error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.Page[OrderView]{}, fmt.Errorf("%w: end time precedes start time", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, OrderListFilter{
		Number:     strings.TrimSpace(filter.Number),
		Phone:      strings.TrimSpace(filter.Phone),
		Statuses:   filter.Statuses,
		OrderedAt:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: normalisePagination(filter.Pagination),
	})
	if err != nil {
		return domain.Page[OrderView]{}, mapOrderRepositoryError(err)
	}
	if err := s.attachLines(ctx, page.Items); err != nil {
		return domain.Page[OrderView]{}, err
	}

	views := make([]OrderView, 0, len(page.Items))
	for _, order := range page.Items {
		views = append(views, OrderView{Order: order, DishesSummary: dishesSummary(order.Lines)})
	}
	return domain.Page[OrderView]{
		Items:    views,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}

func (s *orderService) StatusCounts(ctx context.Context) (StatusCounts, error) {
	counts, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return StatusCounts{}, mapOrderRepositoryError(err)
	}
	return counts, nil
}

// RequestPayment asks the gateway for a prepay token. Local state is untouched until the paid callback.
func (s *orderService) RequestPayment(ctx context.Context, cmd UserOrderCommand) (PrepayToken, error) {
	order, err := s.ownedOrder(ctx, cmd)
	if err != nil {
		return PrepayToken{}, err
	}
	if order.Status != domain.OrderStatusPendingPayment || order.PayStatus != domain.PayStatusUnpaid {
		return PrepayToken{}, fmt.Errorf("%w: order %s is not awaiting payment", ErrOrderStatus, order.Number)
	}

	token, err := s.gateway.RequestPrepay(ctx, payments.PrepayRequest{
		OrderNumber: order.Number,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Description: "order " + order.Number,
		PayerID:     order.UserID,
		NotifyURL:   s.notifyURL,
	})
	if err != nil {
		s.logger(ctx, "order.prepay.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PrepayToken{}, mapGatewayError(err)
	}
	return token, nil
}

// Remind nudges connected merchant clients about an order awaiting work.
func (s *orderService) Remind(ctx context.Context, cmd UserOrderCommand) error {
	order, err := s.ownedOrder(ctx, cmd)
	if err != nil {
		return err
	}
	if !remindableStatuses[order.Status] {
		return fmt.Errorf("%w: order %s cannot be reminded in status %s", ErrOrderStatus, order.Number, order.Status)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventReminder,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: order.Status,
		CurrentStatus:  order.Status,
		ActorID:        order.UserID,
		OccurredAt:     s.now(),
	})
	return nil
}

// Reorder copies the lines of a past order into the cart, merging with matching lines.
func (s *orderService) Reorder(ctx context.Context, cmd UserOrderCommand) ([]CartLine, error) {
	order, err := s.ownedOrder(ctx, cmd)
	if err != nil {
		return nil, err
	}
	source := order.Lines
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: order %s has no lines", ErrOrderInvalidInput, order.ID)
	}

	var cart []CartLine
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.carts.ListByUser(txCtx, order.UserID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		now := s.now()
		var fresh []CartLine
		for _, line := range source {
			if idx := findCartLine(existing, line.DishID, line.ComboID, line.Flavor); idx >= 0 {
				existing[idx].Quantity += line.Quantity
				if err := s.carts.UpdateQuantity(txCtx, existing[idx].ID, existing[idx].Quantity); err != nil {
					return mapCartRepositoryError(err)
				}
				continue
			}
			item := CartLine{
				ID:         cartLineIDPrefix + s.newID(),
				UserID:     order.UserID,
				DishID:     line.DishID,
				ComboID:    line.ComboID,
				Flavor:     line.Flavor,
				Name:       line.Name,
				Image:      line.Image,
				UnitAmount: line.UnitAmount,
				Quantity:   line.Quantity,
				CreatedAt:  now,
			}
			existing = append(existing, item)
			fresh = append(fresh, item)
		}
		if len(fresh) > 0 {
			if err := s.carts.Insert(txCtx, fresh...); err != nil {
				return mapCartRepositoryError(err)
			}
		}
		cart = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *orderService) ownedOrder(ctx context.Context, cmd UserOrderCommand) (Order, error) {
	userID := resolveUserID(ctx, cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.GetOrder(ctx, OrderReadCommand{OrderID: cmd.OrderID, UserID: userID})
}

func (s *orderService) attachLines(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	lines, err := s.orders.ListLines(ctx, ids...)
	if err != nil {
		return mapOrderRepositoryError(err)
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return nil
}

// dishesSummary renders lines as "name*qty;" pairs for merchant listings.
func dishesSummary(lines []OrderLine) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line.Name)
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(line.Quantity))
		b.WriteByte(';')
	}
	return b.String()
}

func findCartLine(lines []CartLine, dishID, comboID, flavor string) int {
	for i, line := range lines {
		if line.SameItem(dishID, comboID, flavor) {
			return i
		}
	}
	return -1
}

func normalisePagination(p domain.Pagination) domain.Pagination {
	if p.Page <= 0 {
		p.Page = 1
	}
	switch {
	case p.PageSize <= 0:
		p.PageSize = defaultOrderPageSize
	case p.PageSize > maxOrderPageSize:
		p.PageSize = maxOrderPageSize
	}
	return p
}
