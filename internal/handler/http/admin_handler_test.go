package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
	"github.com/vasiliy-maslov/nfc-card-store/internal/user"
)

func TestAdminRoutes_RequireAdminSession(t *testing.T) {
	env := newTestEnv(t)
	userToken, _ := env.token(t, auth.RoleUser)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "no token", req: httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)},
		{name: "garbage token", req: withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil), "not-a-jwt")},
		{name: "user role", req: withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/stats", nil), userToken)},
		{name: "user role on settings", req: withBearer(httptest.NewRequest(http.MethodPost, "/api/admin/settings", strings.NewReader(`{}`)), userToken)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.serve(tt.req)
			assert.Equal(t, http.StatusForbidden, rr.Code)
		})
	}
}

func TestAdminRoutes_UseStoredRole(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.ResolveRolesWith(env.users)

	demotedToken, demoted := env.token(t, auth.RoleAdmin)
	deletedToken, deleted := env.token(t, auth.RoleSuperAdmin)
	env.users.On("CurrentRole", mock.Anything, demoted).Return(auth.RoleUser, nil).Once()
	env.users.On("CurrentRole", mock.Anything, deleted).Return(auth.Role(""), user.ErrNotFound).Once()

	rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/stats", nil), demotedToken))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), deletedToken))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminOrderHandler_ListOrders(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.token(t, auth.RoleAdmin)

	want := order.ListFilter{
		Query:    "dupont",
		CardType: "metal_premium",
		Status:   "PAID",
		Period:   "custom",
		Start:    "2025-03-01",
		End:      "2025-03-10",
		Sort:     "amount",
		Dir:      "asc",
		Page:     2,
		PageSize: 50,
	}
	page := &order.Page{
		Items:      []order.Order{{ID: uuid.Must(uuid.NewV4()), Status: order.StatusPaid, Amount: decimal.RequireFromString("79.90")}},
		Total:      51,
		Page:       2,
		PageSize:   50,
		TotalPages: 2,
	}
	env.orders.On("ListOrders", mock.Anything, mock.MatchedBy(func(f order.ListFilter) bool {
		return cmp.Diff(want, f) == ""
	})).Return(page, nil).Once()

	url := "/api/admin/orders?q=dupont&cardType=metal_premium&status=PAID&period=custom&start=2025-03-01&end=2025-03-10&sort=amount&dir=asc&page=2&pageSize=50"
	rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, url, nil), token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got struct {
		Items      []order.Order `json:"items"`
		Total      int           `json:"total"`
		TotalPages int           `json:"totalPages"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 51, got.Total)
	assert.Equal(t, 2, got.TotalPages)
}

func TestAdminOrderHandler_ListOrders_SessionCookie(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.token(t, auth.RoleSuperAdmin)

	env.orders.On("ListOrders", mock.Anything, order.ListFilter{Page: 0, Status: "LOST"}).Return(nil, order.ErrInvalidStatus).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders?status=LOST&page=abc", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})

	rr := env.serve(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, order.ErrInvalidStatus.Error(), decodeError(t, rr))
}

func TestAdminOrderHandler_Export(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	orders := []order.Order{{
		ID:            uuid.Must(uuid.FromString("6f1c2a52-4d0e-4a57-9b8f-0f4b8f0f9e21")),
		Status:        order.StatusPaid,
		Amount:        decimal.RequireFromString("29.90"),
		Currency:      "eur",
		CustomerName:  "Jean Dupont",
		CustomerEmail: "jean@example.com",
		CardType:      "PVC_PRO",
		Quantity:      1,
		CreatedAt:     created,
	}}

	t.Run("csv", func(t *testing.T) {
		env := newTestEnv(t)
		token, _ := env.token(t, auth.RoleAdmin)
		env.orders.On("ExportOrders", mock.Anything, order.ListFilter{Period: "30d"}).Return(orders, nil).Once()

		rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/export?period=30d", nil), token))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Disposition"), `attachment; filename="orders-paid-`))
		assert.True(t, strings.HasSuffix(rr.Header().Get("Content-Disposition"), `.csv"`))

		lines := strings.Split(rr.Body.String(), "\n")
		require.GreaterOrEqual(t, len(lines), 3)
		assert.Equal(t, "\ufeffsep=;", lines[0])
		assert.True(t, strings.HasPrefix(lines[2], "6f1c2a52-4d0e-4a57-9b8f-0f4b8f0f9e21;2025-03-14T09:30:00.000Z;PAID;29.90;eur;Jean Dupont;"))
	})

	t.Run("xlsx", func(t *testing.T) {
		env := newTestEnv(t)
		token, _ := env.token(t, auth.RoleAdmin)
		env.orders.On("ExportOrders", mock.Anything, order.ListFilter{}).Return(orders, nil).Once()

		rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/export-xlsx", nil), token))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
		assert.True(t, strings.HasSuffix(rr.Header().Get("Content-Disposition"), `.xlsx"`))
		assert.True(t, strings.HasPrefix(rr.Body.String(), "PK"), "xlsx is a zip archive")
	})

	t.Run("service failure", func(t *testing.T) {
		env := newTestEnv(t)
		token, _ := env.token(t, auth.RoleAdmin)
		env.orders.On("ExportOrders", mock.Anything, order.ListFilter{}).Return(nil, errors.New("service: failed to export orders: boom")).Once()

		rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/export", nil), token))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Failed to export orders", decodeError(t, rr))
	})
}

func TestAdminOrderHandler_Stats(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.token(t, auth.RoleAdmin)

	env.orders.On("Stats", mock.Anything).Return(&order.Stats{
		CountByStatus: map[order.Status]int{order.StatusPaid: 3},
		TotalOrders:   3,
		PaidRevenue:   decimal.RequireFromString("89.70"),
	}, nil).Once()

	rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/stats", nil), token))
	require.Equal(t, http.StatusOK, rr.Code)

	var got order.Stats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, 3, got.CountByStatus[order.StatusPaid])
	assert.True(t, decimal.RequireFromString("89.70").Equal(got.PaidRevenue))
}

func TestAdminOrderHandler_GetOrder(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.token(t, auth.RoleAdmin)

	found := &order.Order{ID: uuid.Must(uuid.NewV4()), Status: order.StatusPending}
	missing := uuid.Must(uuid.NewV4())
	env.orders.On("GetOrder", mock.Anything, found.ID).Return(found, nil).Once()
	env.orders.On("GetOrder", mock.Anything, missing).Return(nil, order.ErrOrderNotFound).Once()

	rr := env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/"+found.ID.String(), nil), token))
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Order order.Order `json:"order"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, found.ID, got.Order.ID)

	rr = env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/"+missing.String(), nil), token))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.serve(withBearer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/not-a-uuid", nil), token))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid id parameter", decodeError(t, rr))
}

func TestAdminOrderHandler_UpdateStatus(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name       string
		body       string
		mockSetup  func(m *MockOrderService)
		wantStatus int
		wantMsg    string
	}{
		{
			name: "shipped",
			body: `{"status":"shipped"}`,
			mockSetup: func(m *MockOrderService) {
				m.On("SetStatus", mock.Anything, orderID, "shipped").
					Return(&order.Order{ID: orderID, Status: order.StatusShipped}, nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "invalid transition",
			body: `{"status":"PENDING"}`,
			mockSetup: func(m *MockOrderService) {
				m.On("SetStatus", mock.Anything, orderID, "PENDING").
					Return(nil, fmt.Errorf("%w: from PAID to PENDING", order.ErrInvalidStatusTransition)).Once()
			},
			wantStatus: http.StatusConflict,
			wantMsg:    order.ErrInvalidStatusTransition.Error(),
		},
		{
			name: "unknown order",
			body: `{"status":"PAID"}`,
			mockSetup: func(m *MockOrderService) {
				m.On("SetStatus", mock.Anything, orderID, "PAID").Return(nil, order.ErrOrderNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
			wantMsg:    order.ErrOrderNotFound.Error(),
		},
		{
			name:       "status missing",
			body:       `{}`,
			mockSetup:  func(m *MockOrderService) {},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			token, _ := env.token(t, auth.RoleAdmin)
			tt.mockSetup(env.orders)

			req := httptest.NewRequest(http.MethodPatch, "/api/admin/orders/"+orderID.String(), strings.NewReader(tt.body))
			rr := env.serve(withBearer(req, token))
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, decodeError(t, rr))
				return
			}
			var got struct {
				Order order.Order `json:"order"`
			}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, order.StatusShipped, got.Order.Status)
		})
	}
}
