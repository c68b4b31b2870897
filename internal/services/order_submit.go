package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/platform/textutil"
)

const maxOrderNumberAttempts = 3

var errOrderNumberTaken = errors.New("order: order number already taken")

// SubmitOrder turns the user's cart into a PendingPayment order in a single transaction.
func (s *orderService) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (OrderSummary, error) {
	userID := resolveUserID(ctx, cmd.UserID)
	if userID == "" {
		return OrderSummary{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	addressID := strings.TrimSpace(cmd.AddressBookID)
	if addressID == "" {
		return OrderSummary{}, fmt.Errorf("%w: address book id is required", ErrOrderInvalidInput)
	}
	if cmd.TablewareNumber < 0 || cmd.PackAmount < 0 {
		return OrderSummary{}, fmt.Errorf("%w: tableware number and pack amount must not be negative", ErrOrderInvalidInput)
	}

	address, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return OrderSummary{}, fmt.Errorf("%w: %s", ErrOrderAddressNotFound, addressID)
		}
		return OrderSummary{}, mapOrderRepositoryError(err)
	}

	if s.ranges != nil {
		if err := s.ranges.CheckRange(ctx, address.FullText()); err != nil {
			s.logger(ctx, "order.submit.range_rejected", map[string]any{
				"userId":    userID,
				"addressId": addressID,
				"error":     err.Error(),
			})
			return OrderSummary{}, err
		}
	}

	var order Order
	for attempt := 1; ; attempt++ {
		order, err = s.submitOnce(ctx, userID, address, cmd)
		if err == nil {
			break
		}
		if errors.Is(err, errOrderNumberTaken) && attempt < maxOrderNumberAttempts {
			s.logger(ctx, "order.submit.number_collision", map[string]any{"attempt": attempt})
			continue
		}
		if errors.Is(err, errOrderNumberTaken) {
			err = fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
		s.logger(ctx, "order.submit.failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return OrderSummary{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventSubmitted,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: order.Status,
		ActorID:       userID,
		OccurredAt:    order.OrderedAt,
		Metadata: map[string]any{
			"amount": order.Amount,
			"lines":  len(order.Lines),
		},
	})

	return OrderSummary{
		ID:        order.ID,
		Number:    order.Number,
		Amount:    order.Amount,
		OrderedAt: order.OrderedAt,
	}, nil
}

func (s *orderService) submitOnce(ctx context.Context, userID string, address domain.Address, cmd SubmitOrderCommand) (Order, error) {
	var order Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if len(cart) == 0 {
			return ErrOrderCartEmpty
		}

		now := s.now()
		order = s.buildOrder(userID, address, cmd, cart, now)

		if err := s.orders.Insert(txCtx, order); err != nil {
			if isRepositoryConflict(err) {
				return fmt.Errorf("%w: %v", errOrderNumberTaken, err)
			}
			return mapOrderRepositoryError(err)
		}
		if err := s.orders.InsertLines(txCtx, order.Lines); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.carts.DeleteByUser(txCtx, userID); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) buildOrder(userID string, address domain.Address, cmd SubmitOrderCommand, cart []CartLine, now time.Time) Order {
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Number:        s.newNumber(now),
		UserID:        userID,
		AddressBookID: address.ID,
		Delivery: domain.DeliverySnapshot{
			Consignee: address.Consignee,
			Phone:     address.Phone,
			Address:   address.FullText(),
		},
		PackAmount:          cmd.PackAmount,
		Currency:            s.currency,
		Status:              domain.OrderStatusPendingPayment,
		PayStatus:           domain.PayStatusUnpaid,
		Remark:              textutil.SanitizePlain(cmd.Remark, maxRemarkRunes),
		TablewareNumber:     cmd.TablewareNumber,
		EstimatedDeliveryAt: cmd.EstimatedDeliveryAt,
		OrderedAt:           now,
		Audit:               domain.NewAudit(userID, now),
		Version:             1,
	}

	order.Lines = make([]OrderLine, 0, len(cart))
	total := cmd.PackAmount
	for _, item := range cart {
		line := OrderLine{
			ID:         orderLineIDPrefix + s.newID(),
			OrderID:    order.ID,
			DishID:     item.DishID,
			ComboID:    item.ComboID,
			Name:       item.Name,
			Flavor:     item.Flavor,
			Image:      item.Image,
			UnitAmount: item.UnitAmount,
			Quantity:   item.Quantity,
			Amount:     item.Amount(),
		}
		total += line.Amount
		order.Lines = append(order.Lines, line)
	}
	order.Amount = total
	return order
}
