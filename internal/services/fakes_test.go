package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/repositories"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e testRepoError) Error() string       { return e.msg }
func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return e.conflict }
func (e testRepoError) IsUnavailable() bool { return e.unavailable }

// memoryStore backs orders, lines and cart lines. RunInTx restores a snapshot on error.
type memoryStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	lines  map[string][]domain.OrderLine
	carts  map[string][]domain.CartLine

	insertFn      func(domain.Order) error
	insertLinesFn func([]domain.OrderLine) error
	updateFn      func(domain.Order) error
	deleteCartFn  func(string) error
	listStaleFn   func(domain.OrderStatus, time.Time) ([]string, error)
}

var (
	_ repositories.OrderRepository = (*memoryStore)(nil)
	_ repositories.CartRepository  = memoryCarts{}
	_ repositories.UnitOfWork      = (*memoryStore)(nil)
)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders: map[string]domain.Order{},
		lines:  map[string][]domain.OrderLine{},
		carts:  map[string][]domain.CartLine{},
	}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	orders := maps.Clone(m.orders)
	lines := cloneSliceMap(m.lines)
	carts := cloneSliceMap(m.carts)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.orders, m.lines, m.carts = orders, lines, carts
		m.mu.Unlock()
		return err
	}
	return nil
}

func cloneSliceMap[T any](in map[string][]T) map[string][]T {
	out := make(map[string][]T, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

func (m *memoryStore) seedOrder(order domain.Order) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	m.orders[order.ID] = order
	return order
}

func (m *memoryStore) seedLines(orderID string, lines ...domain.OrderLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[orderID] = append(m.lines[orderID], lines...)
}

func (m *memoryStore) seedCart(lines ...domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		m.carts[line.UserID] = append(m.carts[line.UserID], line)
	}
}

func (m *memoryStore) order(t *testing.T, id string) domain.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return order
}

func (m *memoryStore) Insert(_ context.Context, order domain.Order) error {
	if m.insertFn != nil {
		if err := m.insertFn(order); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.Number == order.Number {
			return testRepoError{msg: "duplicate number", conflict: true}
		}
	}
	order.Lines = nil
	m.orders[order.ID] = order
	return nil
}

func (m *memoryStore) InsertLines(_ context.Context, lines []domain.OrderLine) error {
	if m.insertLinesFn != nil {
		if err := m.insertLinesFn(lines); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		m.lines[line.OrderID] = append(m.lines[line.OrderID], line)
	}
	return nil
}

func (m *memoryStore) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	if m.updateFn != nil {
		if err := m.updateFn(order); err != nil {
			return domain.Order{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return domain.Order{}, testRepoError{msg: "missing", notFound: true}
	}
	if stored.Version != order.Version {
		return domain.Order{}, testRepoError{msg: "stale version", conflict: true}
	}
	order.Version++
	order.Lines = nil
	m.orders[order.ID] = order
	return order, nil
}

func (m *memoryStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, testRepoError{msg: "order not found", notFound: true}
	}
	return order, nil
}

func (m *memoryStore) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return m.FindByID(ctx, orderID)
}

func (m *memoryStore) FindByNumberForUpdate(_ context.Context, number string) (domain.Order, error) {
	return m.findWhere(func(o domain.Order) bool { return o.Number == number })
}

func (m *memoryStore) FindByPaymentRefForUpdate(_ context.Context, ref string) (domain.Order, error) {
	return m.findWhere(func(o domain.Order) bool { return o.PaymentRef != "" && o.PaymentRef == ref })
}

func (m *memoryStore) findWhere(match func(domain.Order) bool) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if match(order) {
			return order, nil
		}
	}
	return domain.Order{}, testRepoError{msg: "order not found", notFound: true}
}

func (m *memoryStore) ListLines(_ context.Context, orderIDs ...string) (map[string][]domain.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.OrderLine{}
	for _, id := range orderIDs {
		if lines, ok := m.lines[id]; ok {
			out[id] = slices.Clone(lines)
		}
	}
	return out, nil
}

func (m *memoryStore) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Number != "" && !strings.Contains(order.Number, filter.Number) {
			continue
		}
		if filter.Phone != "" && !strings.Contains(order.Delivery.Phone, filter.Phone) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		matched = append(matched, order)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].OrderedAt.After(matched[j].OrderedAt) })

	page := domain.Page[domain.Order]{Total: len(matched), Page: filter.Pagination.Page, PageSize: filter.Pagination.PageSize}
	start := min(filter.Pagination.Offset(), len(matched))
	end := len(matched)
	if filter.Pagination.PageSize > 0 {
		end = min(start+filter.Pagination.PageSize, len(matched))
	}
	page.Items = matched[start:end]
	return page, nil
}

func (m *memoryStore) ListStale(_ context.Context, status domain.OrderStatus, cutoff time.Time, limit int) ([]string, error) {
	if m.listStaleFn != nil {
		return m.listStaleFn(status, cutoff)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, order := range m.orders {
		if order.Status == status && order.OrderedAt.Before(cutoff) {
			ids = append(ids, order.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memoryStore) CountByStatus(context.Context) (domain.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts domain.StatusCounts
	for _, order := range m.orders {
		switch order.Status {
		case domain.OrderStatusToBeConfirmed:
			counts.ToBeConfirmed++
		case domain.OrderStatusConfirmed:
			counts.Confirmed++
		case domain.OrderStatusDeliveryInProgress:
			counts.DeliveryInProgress++
		}
	}
	return counts, nil
}

// memoryCarts exposes the cart half of memoryStore; Insert clashes with the order method set.
type memoryCarts struct {
	*memoryStore
}

func (m memoryCarts) Insert(_ context.Context, lines ...domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		m.carts[line.UserID] = append(m.carts[line.UserID], line)
	}
	return nil
}

func (m memoryCarts) ListByUser(_ context.Context, userID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.carts[userID]), nil
}

func (m *memoryStore) cartLines(userID string) []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.carts[userID])
}

func (m memoryCarts) UpdateQuantity(_ context.Context, lineID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, lines := range m.carts {
		for i := range lines {
			if lines[i].ID == lineID {
				m.carts[user][i].Quantity = quantity
				return nil
			}
		}
	}
	return testRepoError{msg: "cart line not found", notFound: true}
}

func (m memoryCarts) Delete(_ context.Context, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, lines := range m.carts {
		for i := range lines {
			if lines[i].ID == lineID {
				m.carts[user] = append(lines[:i:i], lines[i+1:]...)
				return nil
			}
		}
	}
	return testRepoError{msg: "cart line not found", notFound: true}
}

func (m memoryCarts) DeleteByUser(_ context.Context, userID string) error {
	if m.deleteCartFn != nil {
		if err := m.deleteCartFn(userID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *memoryStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryStore) lineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, lines := range m.lines {
		total += len(lines)
	}
	return total
}

type stubAddressRepo struct {
	addresses map[string]domain.Address
}

func (s *stubAddressRepo) Get(_ context.Context, userID, addressID string) (domain.Address, error) {
	addr, ok := s.addresses[userID+"/"+addressID]
	if !ok {
		return domain.Address{}, testRepoError{msg: "address not found", notFound: true}
	}
	return addr, nil
}

type stubGateway struct {
	prepayFn func(context.Context, payments.PrepayRequest) (payments.PrepayToken, error)
	refundFn func(context.Context, payments.RefundRequest) (payments.RefundAck, error)
	prepays  []payments.PrepayRequest
	refunds  []payments.RefundRequest
}

func (s *stubGateway) RequestPrepay(ctx context.Context, req payments.PrepayRequest) (payments.PrepayToken, error) {
	s.prepays = append(s.prepays, req)
	if s.prepayFn != nil {
		return s.prepayFn(ctx, req)
	}
	return payments.PrepayToken{Provider: "stripe", IntentID: "pi_" + req.OrderNumber, ClientSecret: "secret"}, nil
}

func (s *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundAck, error) {
	s.refunds = append(s.refunds, req)
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.RefundAck{RefundID: "re_" + req.RefundNumber, Status: "succeeded"}, nil
}

func (s *stubGateway) VerifyNotification([]byte, string) (payments.Notification, error) {
	return payments.Notification{}, fmt.Errorf("not implemented")
}

type stubRangeChecker struct {
	checkFn func(context.Context, string) error
	calls   []string
}

func (s *stubRangeChecker) CheckRange(ctx context.Context, address string) error {
	s.calls = append(s.calls, address)
	if s.checkFn != nil {
		return s.checkFn(ctx, address)
	}
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type orderFixture struct {
	store     *memoryStore
	addresses *stubAddressRepo
	gateway   *stubGateway
	ranges    *stubRangeChecker
	events    *captureOrderEvents
	service   *orderService
}

func newOrderFixture(t *testing.T, mutate ...func(*OrderServiceDeps)) *orderFixture {
	t.Helper()
	fx := &orderFixture{
		store: newMemoryStore(),
		addresses: &stubAddressRepo{addresses: map[string]domain.Address{
			"user-1/addr-1": {
				ID: "addr-1", UserID: "user-1", Consignee: "Li Lei", Phone: "13800000000",
				Province: "北京市", City: "北京市", District: "海淀区", Detail: "中关村大街1号",
			},
		}},
		gateway: &stubGateway{},
		ranges:  &stubRangeChecker{},
		events:  &captureOrderEvents{},
	}
	seq := 0
	deps := OrderServiceDeps{
		Orders:     fx.store,
		Carts:      memoryCarts{fx.store},
		Addresses:  fx.addresses,
		UnitOfWork: fx.store,
		Gateway:    fx.gateway,
		Ranges:     fx.ranges,
		Events:     fx.events,
		Clock:      func() time.Time { return testNow },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("ID%03d", seq)
		},
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	fx.service = svc.(*orderService)
	return fx
}

func seededOrder(id string, status domain.OrderStatus, pay domain.PayStatus) domain.Order {
	order := domain.Order{
		ID:        id,
		Number:    "N-" + id,
		UserID:    "user-1",
		Amount:    4250,
		Currency:  "cny",
		Status:    status,
		PayStatus: pay,
		OrderedAt: testNow.Add(-30 * time.Minute),
		Audit:     domain.NewAudit("user-1", testNow.Add(-30*time.Minute)),
	}
	if pay != domain.PayStatusUnpaid {
		order.PaymentRef = "pi_" + id
		checkout := order.OrderedAt.Add(time.Minute)
		order.CheckoutAt = &checkout
	}
	return order
}
