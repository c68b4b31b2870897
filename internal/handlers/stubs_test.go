package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/services"
)

var errStubNotImplemented = errors.New("stub: not implemented")

type stubOrderService struct {
	submitFn       func(context.Context, services.SubmitOrderCommand) (services.OrderSummary, error)
	applyFn        func(context.Context, services.GatewayNotice) (services.Order, error)
	confirmFn      func(context.Context, services.OrderActionCommand) (services.Order, error)
	rejectFn       func(context.Context, services.OrderActionCommand) (services.Order, error)
	cancelUserFn   func(context.Context, services.UserOrderCommand) (services.Order, error)
	cancelMerchFn  func(context.Context, services.OrderActionCommand) (services.Order, error)
	dispatchFn     func(context.Context, services.OrderActionCommand) (services.Order, error)
	completeFn     func(context.Context, services.OrderActionCommand) (services.Order, error)
	payFn          func(context.Context, services.UserOrderCommand) (services.PrepayToken, error)
	remindFn       func(context.Context, services.UserOrderCommand) error
	reorderFn      func(context.Context, services.UserOrderCommand) ([]services.CartLine, error)
	getFn          func(context.Context, services.OrderReadCommand) (services.Order, error)
	listFn         func(context.Context, services.UserOrderFilter) (domain.Page[services.Order], error)
	searchFn       func(context.Context, services.AdminOrderFilter) (domain.Page[services.OrderView], error)
	statusCountsFn func(context.Context) (services.StatusCounts, error)
}

var _ services.OrderService = (*stubOrderService)(nil)

func (s *stubOrderService) SubmitOrder(ctx context.Context, cmd services.SubmitOrderCommand) (services.OrderSummary, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.OrderSummary{}, errStubNotImplemented
}

func (s *stubOrderService) ApplyPaymentNotification(ctx context.Context, notice services.GatewayNotice) (services.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, notice)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ConfirmOrder(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) RejectOrder(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) CancelByUser(ctx context.Context, cmd services.UserOrderCommand) (services.Order, error) {
	if s.cancelUserFn != nil {
		return s.cancelUserFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) CancelByMerchant(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.cancelMerchFn != nil {
		return s.cancelMerchFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) DispatchOrder(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) CompleteOrder(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ExpireUnpaid(context.Context, string, time.Time) (services.Order, error) {
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ForceComplete(context.Context, string, time.Time) (services.Order, error) {
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) RequestPayment(ctx context.Context, cmd services.UserOrderCommand) (services.PrepayToken, error) {
	if s.payFn != nil {
		return s.payFn(ctx, cmd)
	}
	return services.PrepayToken{}, errStubNotImplemented
}

func (s *stubOrderService) Remind(ctx context.Context, cmd services.UserOrderCommand) error {
	if s.remindFn != nil {
		return s.remindFn(ctx, cmd)
	}
	return errStubNotImplemented
}

func (s *stubOrderService) Reorder(ctx context.Context, cmd services.UserOrderCommand) ([]services.CartLine, error) {
	if s.reorderFn != nil {
		return s.reorderFn(ctx, cmd)
	}
	return nil, errStubNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.OrderReadCommand) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, filter services.UserOrderFilter) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Order]{}, errStubNotImplemented
}

func (s *stubOrderService) SearchOrders(ctx context.Context, filter services.AdminOrderFilter) (domain.Page[services.OrderView], error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, filter)
	}
	return domain.Page[services.OrderView]{}, errStubNotImplemented
}

func (s *stubOrderService) StatusCounts(ctx context.Context) (services.StatusCounts, error) {
	if s.statusCountsFn != nil {
		return s.statusCountsFn(ctx)
	}
	return services.StatusCounts{}, errStubNotImplemented
}

type stubCartService struct {
	listFn   func(context.Context, string) (services.CartView, error)
	addFn    func(context.Context, services.CartItemCommand) (services.CartLine, error)
	removeFn func(context.Context, services.CartItemCommand) (services.CartView, error)
	clearFn  func(context.Context, string) error
}

func (s *stubCartService) ListCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return services.CartView{}, errStubNotImplemented
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.CartItemCommand) (services.CartLine, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.CartLine{}, errStubNotImplemented
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.CartView{}, errStubNotImplemented
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return errStubNotImplemented
}

type stubReportService struct {
	turnoverFn func(context.Context, services.ReportRangeCommand) (services.TurnoverReport, error)
	statsFn    func(context.Context, services.ReportRangeCommand) (services.OrderStatsReport, error)
	topFn      func(context.Context, services.ReportRangeCommand, int) ([]domain.SalesEntry, error)
	businessFn func(context.Context, services.ReportRangeCommand) (services.BusinessSnapshot, error)
}

func (s *stubReportService) Turnover(ctx context.Context, rng services.ReportRangeCommand) (services.TurnoverReport, error) {
	if s.turnoverFn != nil {
		return s.turnoverFn(ctx, rng)
	}
	return services.TurnoverReport{}, errStubNotImplemented
}

func (s *stubReportService) OrderStats(ctx context.Context, rng services.ReportRangeCommand) (services.OrderStatsReport, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, rng)
	}
	return services.OrderStatsReport{}, errStubNotImplemented
}

func (s *stubReportService) TopSales(ctx context.Context, rng services.ReportRangeCommand, limit int) ([]domain.SalesEntry, error) {
	if s.topFn != nil {
		return s.topFn(ctx, rng, limit)
	}
	return nil, errStubNotImplemented
}

func (s *stubReportService) BusinessSnapshot(ctx context.Context, rng services.ReportRangeCommand) (services.BusinessSnapshot, error) {
	if s.businessFn != nil {
		return s.businessFn(ctx, rng)
	}
	return services.BusinessSnapshot{}, errStubNotImplemented
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubSweeper struct {
	unpaidFn     func(context.Context) (services.SweepResult, error)
	deliveriesFn func(context.Context) (services.SweepResult, error)
}

func (s *stubSweeper) SweepUnpaid(ctx context.Context) (services.SweepResult, error) {
	if s.unpaidFn != nil {
		return s.unpaidFn(ctx)
	}
	return services.SweepResult{}, errStubNotImplemented
}

func (s *stubSweeper) SweepStuckDeliveries(ctx context.Context) (services.SweepResult, error) {
	if s.deliveriesFn != nil {
		return s.deliveriesFn(ctx)
	}
	return services.SweepResult{}, errStubNotImplemented
}

type stubVerifier struct {
	verifyFn func([]byte, string) (payments.Notification, error)
}

func (s *stubVerifier) VerifyNotification(payload []byte, signature string) (payments.Notification, error) {
	if s.verifyFn != nil {
		return s.verifyFn(payload, signature)
	}
	return payments.Notification{}, errStubNotImplemented
}

func withIdentity(r *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles})
	return r.WithContext(ctx)
}
