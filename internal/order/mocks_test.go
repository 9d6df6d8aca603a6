package order_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, o *order.Order) (uuid.UUID, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) GetOrderBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) SetStripeSessionID(ctx context.Context, id uuid.UUID, sessionID string) error {
	return m.Called(ctx, id, sessionID).Error(0)
}

func (m *MockRepository) MarkPaidByID(ctx context.Context, id uuid.UUID, upd order.PaymentUpdate) error {
	return m.Called(ctx, id, upd).Error(0)
}

func (m *MockRepository) MarkPaidBySessionID(ctx context.Context, sessionID string, upd order.PaymentUpdate) error {
	return m.Called(ctx, sessionID, upd).Error(0)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to order.Status) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *MockRepository) CountOrders(ctx context.Context, q order.ListQuery) (int, error) {
	args := m.Called(ctx, q)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ListOrders(ctx context.Context, q order.ListQuery) ([]order.Order, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) Stats(ctx context.Context, now time.Time) (*order.Stats, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Stats), args.Error(1)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CheckoutSession), args.Error(1)
}

func (m *MockPayments) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Event), args.Error(1)
}

type MockRetries struct {
	mock.Mock
}

func (m *MockRetries) Enqueue(ctx context.Context, ev payment.Event, lastErr string, next time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, ev, lastErr, next)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockRetries) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]order.RetryJob, error) {
	args := m.Called(ctx, now, lease, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.RetryJob), args.Error(1)
}

func (m *MockRetries) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRetries) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return m.Called(ctx, id, attempts, next, lastErr).Error(0)
}

func (m *MockRetries) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return m.Called(ctx, id, attempts, lastErr).Error(0)
}

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) ApplyPaymentEvent(ctx context.Context, ev payment.Event) error {
	return m.Called(ctx, ev).Error(0)
}
