package http_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	storeHandler "github.com/vasiliy-maslov/nfc-card-store/internal/handler/http"

	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"github.com/vasiliy-maslov/nfc-card-store/internal/catalog"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
	"github.com/vasiliy-maslov/nfc-card-store/internal/invoice"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
	"github.com/vasiliy-maslov/nfc-card-store/internal/storage"
	"github.com/vasiliy-maslov/nfc-card-store/internal/user"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, lines []order.CartLine, customer order.CustomerInfo, custom order.Customization) (*order.Order, error) {
	args := m.Called(ctx, lines, customer, custom)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) RequestPaymentSession(ctx context.Context, o *order.Order) (*payment.CheckoutSession, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CheckoutSession), args.Error(1)
}

func (m *MockOrderService) Checkout(ctx context.Context, in order.CheckoutInput) (*order.CheckoutResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CheckoutResult), args.Error(1)
}

func (m *MockOrderService) ReconcilePaymentEvent(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

func (m *MockOrderService) ApplyPaymentEvent(ctx context.Context, ev payment.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderBySession(ctx context.Context, sessionID string) (*order.Confirmation, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Confirmation), args.Error(1)
}

func (m *MockOrderService) GetInvoiceOrder(ctx context.Context, sessionID string) (*order.Order, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, f order.ListFilter) (*order.Page, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Page), args.Error(1)
}

func (m *MockOrderService) ExportOrders(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) SetStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*order.Order, error) {
	args := m.Called(ctx, id, rawStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Stats(ctx context.Context) (*order.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Stats), args.Error(1)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Create(ctx context.Context, in user.NewUser) (*user.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) List(ctx context.Context) ([]user.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]user.User), args.Error(1)
}

func (m *MockUserService) Get(ctx context.Context, id uuid.UUID) (*user.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) Update(ctx context.Context, id uuid.UUID, p user.Patch) (*user.User, error) {
	args := m.Called(ctx, id, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUserService) Authenticate(ctx context.Context, identifier, password string) (*user.User, error) {
	args := m.Called(ctx, identifier, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) UpdateOwnCredentials(ctx context.Context, id uuid.UUID, in user.CredentialsUpdate) (*user.User, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) EnsureSuperAdmin(ctx context.Context, login, password, name string) error {
	return m.Called(ctx, login, password, name).Error(0)
}

func (m *MockUserService) CurrentRole(ctx context.Context, id uuid.UUID) (auth.Role, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(auth.Role), args.Error(1)
}

type MockLogoUploader struct {
	mock.Mock
}

func (m *MockLogoUploader) UploadLogo(ctx context.Context, r io.Reader) (*storage.UploadedLogo, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UploadedLogo), args.Error(1)
}

type testEnv struct {
	orders  *MockOrderService
	users   *MockUserService
	logos   *MockLogoUploader
	tokens  *auth.TokenManager
	router  chi.Router
	pingErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		orders: new(MockOrderService),
		users:  new(MockUserService),
		logos:  new(MockLogoUploader),
		tokens: auth.NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}),
	}

	shop := catalog.New(map[string]string{"STRIPE_PRICE_ID_PVC_PRO": "price_pvc"})

	env.router = storeHandler.NewRouter(storeHandler.RouterDeps{
		Store:       storeHandler.NewStoreHandler(env.orders, shop, invoice.NewRenderer(shop, "", "")),
		Uploads:     storeHandler.NewUploadHandler(env.logos),
		Auth:        storeHandler.NewAuthHandler(env.users, env.tokens, false),
		AdminOrders: storeHandler.NewAdminOrderHandler(env.orders),
		Users:       storeHandler.NewUserHandler(env.users),
		Tokens:      env.tokens,
		Ping: func(ctx context.Context) error {
			return env.pingErr
		},
	})

	t.Cleanup(func() {
		env.orders.AssertExpectations(t)
		env.users.AssertExpectations(t)
		env.logos.AssertExpectations(t)
	})

	return env
}

// token signs a session for a fresh account with the given role.
func (e *testEnv) token(t *testing.T, role auth.Role) (string, uuid.UUID) {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	raw, _, err := e.tokens.Issue(auth.Identity{UserID: id, Login: "staff", Role: role})
	require.NoError(t, err)
	return raw, id
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
