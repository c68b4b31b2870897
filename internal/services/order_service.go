package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/platform/requestctx"
	"github.com/skydish/api/internal/platform/textutil"
	"github.com/skydish/api/internal/repositories"
)

const (
	orderEventSubmitted     = "order.submitted"
	orderEventPaid          = "order.paid"
	orderEventStatusChanged = "order.status_changed"
	orderEventReminder      = "order.reminder"

	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "ol_"
	cartLineIDPrefix  = "cl_"

	reasonUserCancelled = "user cancelled"
	reasonTimeoutCancel = "timeout auto-cancel"

	actorSystem  = "system"
	actorGateway = "payment-gateway"

	maxReasonRunes  = 200
	maxRemarkRunes  = 100
	defaultCurrency = "cny"
)

// orderAction names a state machine edge.
type orderAction string

const (
	actionPaid           orderAction = "paid"
	actionRefunded       orderAction = "refunded"
	actionConfirm        orderAction = "confirm"
	actionReject         orderAction = "reject"
	actionUserCancel     orderAction = "user_cancel"
	actionMerchantCancel orderAction = "merchant_cancel"
	actionDispatch       orderAction = "dispatch"
	actionComplete       orderAction = "complete"
	actionTimeoutCancel  orderAction = "timeout_cancel"
	actionForceComplete  orderAction = "force_complete"
)

type transitionRule struct {
	from []domain.OrderStatus
	to   domain.OrderStatus
}

var orderTransitions = map[orderAction]transitionRule{
	actionPaid:           {from: []domain.OrderStatus{domain.OrderStatusPendingPayment}, to: domain.OrderStatusToBeConfirmed},
	actionRefunded:       {from: []domain.OrderStatus{domain.OrderStatusCancelled}, to: domain.OrderStatusCancelled},
	actionConfirm:        {from: []domain.OrderStatus{domain.OrderStatusToBeConfirmed}, to: domain.OrderStatusConfirmed},
	actionReject:         {from: []domain.OrderStatus{domain.OrderStatusToBeConfirmed}, to: domain.OrderStatusCancelled},
	actionUserCancel:     {from: []domain.OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusToBeConfirmed}, to: domain.OrderStatusCancelled},
	actionMerchantCancel: {from: []domain.OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusToBeConfirmed, domain.OrderStatusConfirmed, domain.OrderStatusDeliveryInProgress}, to: domain.OrderStatusCancelled},
	actionDispatch:       {from: []domain.OrderStatus{domain.OrderStatusConfirmed}, to: domain.OrderStatusDeliveryInProgress},
	actionComplete:       {from: []domain.OrderStatus{domain.OrderStatusDeliveryInProgress}, to: domain.OrderStatusCompleted},
	actionTimeoutCancel:  {from: []domain.OrderStatus{domain.OrderStatusPendingPayment}, to: domain.OrderStatusCancelled},
	actionForceComplete:  {from: []domain.OrderStatus{domain.OrderStatusDeliveryInProgress}, to: domain.OrderStatusCompleted},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Carts           repositories.CartRepository
	Addresses       repositories.AddressRepository
	UnitOfWork      repositories.UnitOfWork
	Gateway         PaymentGateway
	Ranges          DeliveryRangeChecker
	Events          OrderEventPublisher
	Currency        string
	NotifyURL       string
	Clock           func() time.Time
	IDGenerator     func() string
	NumberGenerator func(now time.Time) string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	addresses  repositories.AddressRepository
	unitOfWork repositories.UnitOfWork
	gateway    PaymentGateway
	ranges     DeliveryRangeChecker
	events     OrderEventPublisher
	currency   string
	notifyURL  string
	clock      func() time.Time
	newID      func() string
	newNumber  func(time.Time) string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = newOrderNumber
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		addresses:  deps.Addresses,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		ranges:     deps.Ranges,
		events:     deps.Events,
		currency:   currency,
		notifyURL:  strings.TrimSpace(deps.NotifyURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numberGen,
		logger:    logger,
	}, nil
}

// transitionPlan describes one locked, re-checked state change.
type transitionPlan struct {
	action orderAction
	actor  string
	load   func(ctx context.Context) (Order, error)
	// noop reports that the locked order already reflects the action; it is returned unchanged.
	noop func(Order) bool
	// check runs after the status guard, before any side effect.
	check func(Order) error
	// apply mutates the locked order and may call the gateway; an error rolls back.
	apply    func(ctx context.Context, order *Order, now time.Time) error
	metadata map[string]any
}

func (s *orderService) transition(ctx context.Context, plan transitionPlan) (Order, error) {
	rule, ok := orderTransitions[plan.action]
	if !ok {
		return Order{}, fmt.Errorf("order: unknown action %q", plan.action)
	}

	var (
		result   Order
		previous domain.OrderStatus
		changed  bool
	)
	now := s.now()
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := plan.load(txCtx)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if plan.noop != nil && plan.noop(order) {
			result = order
			return nil
		}
		if !slices.Contains(rule.from, order.Status) {
			return fmt.Errorf("%w: cannot %s order in status %s", ErrOrderStatus, plan.action, order.Status)
		}
		if plan.check != nil {
			if err := plan.check(order); err != nil {
				return err
			}
		}

		previous = order.Status
		if plan.apply != nil {
			if err := plan.apply(txCtx, &order, now); err != nil {
				return err
			}
		}
		order.Status = rule.to
		order.Audit = order.Audit.Touch(plan.actor, now)

		updated, err := s.orders.Update(txCtx, order)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		result = updated
		changed = true
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.transition.failed", map[string]any{
			"action": string(plan.action),
			"actor":  plan.actor,
			"error":  err.Error(),
		})
		return Order{}, err
	}
	if !changed {
		return result, nil
	}

	eventType := orderEventStatusChanged
	if plan.action == actionPaid {
		eventType = orderEventPaid
	}
	metadata := maps.Clone(plan.metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["action"] = string(plan.action)
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        result.ID,
		OrderNumber:    result.Number,
		PreviousStatus: previous,
		CurrentStatus:  result.Status,
		ActorID:        plan.actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return result, nil
}

// ApplyPaymentNotification applies a verified gateway callback to the order it names.
func (s *orderService) ApplyPaymentNotification(ctx context.Context, notice GatewayNotice) (Order, error) {
	switch notice.Outcome {
	case payments.OutcomePaid:
		number := strings.TrimSpace(notice.OrderNumber)
		if number == "" {
			return Order{}, fmt.Errorf("%w: order number is required", ErrOrderNotificationInvalid)
		}
		return s.transition(ctx, transitionPlan{
			action: actionPaid,
			actor:  actorGateway,
			load: func(txCtx context.Context) (Order, error) {
				return s.orders.FindByNumberForUpdate(txCtx, number)
			},
			noop: func(order Order) bool {
				return order.PayStatus == domain.PayStatusPaid || order.PayStatus == domain.PayStatusRefunded
			},
			apply: func(_ context.Context, order *Order, now time.Time) error {
				order.PayStatus = domain.PayStatusPaid
				order.CheckoutAt = &now
				order.PaymentRef = strings.TrimSpace(notice.PaymentRef)
				return nil
			},
			metadata: map[string]any{"eventId": notice.EventID},
		})
	case payments.OutcomeRefunded:
		ref := strings.TrimSpace(notice.PaymentRef)
		if ref == "" {
			return Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderNotificationInvalid)
		}
		return s.transition(ctx, transitionPlan{
			action: actionRefunded,
			actor:  actorGateway,
			load: func(txCtx context.Context) (Order, error) {
				return s.orders.FindByPaymentRefForUpdate(txCtx, ref)
			},
			noop: func(order Order) bool {
				return order.PayStatus == domain.PayStatusRefunded
			},
			check: func(order Order) error {
				if order.PayStatus != domain.PayStatusPaid {
					return fmt.Errorf("%w: refund for unpaid order %s", ErrOrderStatus, order.Number)
				}
				return nil
			},
			apply: func(_ context.Context, order *Order, _ time.Time) error {
				order.PayStatus = domain.PayStatusRefunded
				return nil
			},
			metadata: map[string]any{"eventId": notice.EventID},
		})
	default:
		return Order{}, fmt.Errorf("%w: unknown outcome %q", ErrOrderNotificationInvalid, notice.Outcome)
	}
}

func (s *orderService) ConfirmOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	return s.transition(ctx, transitionPlan{
		action: actionConfirm,
		actor:  strings.TrimSpace(cmd.ActorID),
		load:   s.lockByID(orderID),
	})
}

func (s *orderService) RejectOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	reason := textutil.SanitizePlain(cmd.Reason, maxReasonRunes)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: rejection reason is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionPlan{
		action: actionReject,
		actor:  strings.TrimSpace(cmd.ActorID),
		load:   s.lockByID(orderID),
		apply: func(txCtx context.Context, order *Order, now time.Time) error {
			if err := s.refundIfPaid(txCtx, order, reason); err != nil {
				return err
			}
			order.RejectionReason = reason
			order.CancelledAt = &now
			return nil
		},
		metadata: map[string]any{"reason": reason},
	})
}

func (s *orderService) CancelByUser(ctx context.Context, cmd UserOrderCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	userID := resolveUserID(ctx, cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionPlan{
		action: actionUserCancel,
		actor:  userID,
		load:   s.lockOwnedByID(orderID, userID),
		apply: func(txCtx context.Context, order *Order, now time.Time) error {
			if order.Status == domain.OrderStatusToBeConfirmed {
				if err := s.refundIfPaid(txCtx, order, reasonUserCancelled); err != nil {
					return err
				}
			}
			order.CancelReason = reasonUserCancelled
			order.CancelledAt = &now
			return nil
		},
		metadata: map[string]any{"reason": reasonUserCancelled},
	})
}

func (s *orderService) CancelByMerchant(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	reason := textutil.SanitizePlain(cmd.Reason, maxReasonRunes)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancel reason is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionPlan{
		action: actionMerchantCancel,
		actor:  strings.TrimSpace(cmd.ActorID),
		load:   s.lockByID(orderID),
		apply: func(txCtx context.Context, order *Order, now time.Time) error {
			if err := s.refundIfPaid(txCtx, order, reason); err != nil {
				return err
			}
			order.CancelReason = reason
			order.CancelledAt = &now
			return nil
		},
		metadata: map[string]any{"reason": reason},
	})
}

func (s *orderService) DispatchOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	return s.transition(ctx, transitionPlan{
		action: actionDispatch,
		actor:  strings.TrimSpace(cmd.ActorID),
		load:   s.lockByID(orderID),
	})
}

func (s *orderService) CompleteOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	orderID, err := requireOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	return s.transition(ctx, transitionPlan{
		action: actionComplete,
		actor:  strings.TrimSpace(cmd.ActorID),
		load:   s.lockByID(orderID),
		apply: func(_ context.Context, order *Order, now time.Time) error {
			order.DeliveredAt = &now
			return nil
		},
	})
}

func (s *orderService) ExpireUnpaid(ctx context.Context, orderID string, cutoff time.Time) (Order, error) {
	return s.transition(ctx, transitionPlan{
		action: actionTimeoutCancel,
		actor:  actorSystem,
		load:   s.lockByID(orderID),
		check:  orderedBefore(cutoff),
		apply: func(_ context.Context, order *Order, now time.Time) error {
			order.CancelReason = reasonTimeoutCancel
			order.CancelledAt = &now
			return nil
		},
		metadata: map[string]any{"reason": reasonTimeoutCancel},
	})
}

func (s *orderService) ForceComplete(ctx context.Context, orderID string, cutoff time.Time) (Order, error) {
	return s.transition(ctx, transitionPlan{
		action: actionForceComplete,
		actor:  actorSystem,
		load:   s.lockByID(orderID),
		check:  orderedBefore(cutoff),
		apply: func(_ context.Context, order *Order, now time.Time) error {
			order.DeliveredAt = &now
			return nil
		},
	})
}

// refundIfPaid refunds the full amount using the order number as refund number.
func (s *orderService) refundIfPaid(ctx context.Context, order *Order, reason string) error {
	if order.PayStatus != domain.PayStatusPaid {
		return nil
	}
	ack, err := s.gateway.Refund(ctx, payments.RefundRequest{
		OrderNumber:    order.Number,
		RefundNumber:   order.Number,
		RefundAmount:   order.Amount,
		OriginalAmount: order.Amount,
		PaymentRef:     order.PaymentRef,
		Reason:         reason,
	})
	if err != nil {
		return mapGatewayError(err)
	}
	order.PayStatus = domain.PayStatusRefunded
	s.logger(ctx, "order.refund.issued", map[string]any{
		"orderId":  order.ID,
		"number":   order.Number,
		"amount":   order.Amount,
		"refundId": ack.RefundID,
	})
	return nil
}

func (s *orderService) lockByID(orderID string) func(context.Context) (Order, error) {
	return func(txCtx context.Context) (Order, error) {
		return s.orders.FindByIDForUpdate(txCtx, orderID)
	}
}

func (s *orderService) lockOwnedByID(orderID, userID string) func(context.Context) (Order, error) {
	return func(txCtx context.Context) (Order, error) {
		order, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return Order{}, err
		}
		if order.UserID != userID {
			return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		return order, nil
	}
}

func orderedBefore(cutoff time.Time) func(Order) error {
	return func(order Order) error {
		if !order.OrderedAt.Before(cutoff) {
			return fmt.Errorf("%w: order %s no longer matches sweep cutoff", ErrOrderStatus, order.ID)
		}
		return nil
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus.String(),
		})
	}
}

func requireOrderID(orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	return orderID, nil
}

func resolveUserID(ctx context.Context, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(requestctx.UserID(ctx))
}

// newOrderNumber combines the submission millisecond with ULID entropy.
func newOrderNumber(now time.Time) string {
	entropy := ulid.Make().String()
	return fmt.Sprintf("%d%s", now.UnixMilli(), entropy[len(entropy)-6:])
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
