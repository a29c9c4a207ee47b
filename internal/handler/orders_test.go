package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/auth"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/handler"
	"github.com/pizzacraft/api/internal/middleware"
	"github.com/pizzacraft/api/internal/service"
	"github.com/shopspring/decimal"
)

// --- Mock OrderServicer ---

type mockOrderService struct {
	createFn       func(ctx context.Context, req service.CreateOrderRequest) (database.Order, error)
	getFn          func(ctx context.Context, userID, orderID uuid.UUID) (database.Order, error)
	listForUserFn  func(ctx context.Context, userID uuid.UUID, status string, page, limit int) (service.OrderPage, error)
	listAllFn      func(ctx context.Context, f service.AdminOrderFilter) (service.OrderPage, error)
	cancelFn       func(ctx context.Context, userID, orderID uuid.UUID, reason string) (database.Order, error)
	updateStatusFn func(ctx context.Context, orderID uuid.UUID, next, adminNotes string) (database.Order, error)
	trackFn        func(ctx context.Context, orderNumber string) (service.Tracking, error)
	statsFn        func(ctx context.Context) (service.OrderStats, error)
}

var errUnexpectedCall = errors.New("unexpected call")

func (m *mockOrderService) Create(ctx context.Context, req service.CreateOrderRequest) (database.Order, error) {
	if m.createFn == nil {
		return database.Order{}, errUnexpectedCall
	}
	return m.createFn(ctx, req)
}

func (m *mockOrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (database.Order, error) {
	if m.getFn == nil {
		return database.Order{}, errUnexpectedCall
	}
	return m.getFn(ctx, userID, orderID)
}

func (m *mockOrderService) ListForUser(ctx context.Context, userID uuid.UUID, status string, page, limit int) (service.OrderPage, error) {
	if m.listForUserFn == nil {
		return service.OrderPage{}, errUnexpectedCall
	}
	return m.listForUserFn(ctx, userID, status, page, limit)
}

func (m *mockOrderService) ListAll(ctx context.Context, f service.AdminOrderFilter) (service.OrderPage, error) {
	if m.listAllFn == nil {
		return service.OrderPage{}, errUnexpectedCall
	}
	return m.listAllFn(ctx, f)
}

func (m *mockOrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (database.Order, error) {
	if m.cancelFn == nil {
		return database.Order{}, errUnexpectedCall
	}
	return m.cancelFn(ctx, userID, orderID, reason)
}

func (m *mockOrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, next, adminNotes string) (database.Order, error) {
	if m.updateStatusFn == nil {
		return database.Order{}, errUnexpectedCall
	}
	return m.updateStatusFn(ctx, orderID, next, adminNotes)
}

func (m *mockOrderService) Track(ctx context.Context, orderNumber string) (service.Tracking, error) {
	if m.trackFn == nil {
		return service.Tracking{}, errUnexpectedCall
	}
	return m.trackFn(ctx, orderNumber)
}

func (m *mockOrderService) Stats(ctx context.Context) (service.OrderStats, error) {
	if m.statsFn == nil {
		return service.OrderStats{}, errUnexpectedCall
	}
	return m.statsFn(ctx)
}

// --- Helpers ---

func numeric(s string) pgtype.Numeric {
	return database.DecimalToNumeric(decimal.RequireFromString(s))
}

func sampleOrder(t *testing.T, userID uuid.UUID) database.Order {
	t.Helper()
	items, err := json.Marshal([]database.LineItem{{
		ID:         uuid.New(),
		Name:       "Custom Pizza",
		Base:       database.IngredientRef{ID: uuid.New(), Name: "Thin Crust", Price: decimal.Zero},
		Sauce:      database.IngredientRef{ID: uuid.New(), Name: "Tomato", Price: decimal.Zero},
		Cheese:     database.IngredientRef{ID: uuid.New(), Name: "Mozzarella", Price: decimal.Zero},
		Vegetables: []database.IngredientRef{{ID: uuid.New(), Name: "Mushrooms", Price: decimal.NewFromInt(1)}},
		Size:       enum.SizeMedium,
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(902),
		TotalPrice: decimal.NewFromInt(1804),
	}})
	if err != nil {
		t.Fatalf("marshal items: %v", err)
	}
	addr, err := json.Marshal(database.Address{Street: "12 MG Road", City: "Pune", State: "MH", ZipCode: "411001"})
	if err != nil {
		t.Fatalf("marshal address: %v", err)
	}
	return database.Order{
		ID:                  uuid.New(),
		OrderNumber:         "PZ-20260314-007",
		UserID:              userID,
		CustomerName:        "Asha Rao",
		CustomerEmail:       "asha@test.com",
		CustomerPhone:       "9876543210",
		DeliveryAddress:     addr,
		Items:               items,
		Subtotal:            numeric("1804"),
		Tax:                 numeric("144.32"),
		DeliveryFee:         numeric("199"),
		Discount:            numeric("0"),
		Total:               numeric("2147.32"),
		PaymentMethod:       enum.PaymentMethodCOD,
		PaymentStatus:       enum.PaymentStatusPending,
		RefundedAmount:      numeric("0"),
		Status:              enum.OrderStatusPending,
		EstimatedDeliveryAt: pgtype.Timestamptz{Time: time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC), Valid: true},
		CreatedAt:           time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC),
		UpdatedAt:           time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC),
	}
}

func newOrderRouter(svc *mockOrderService) http.Handler {
	h := handler.NewOrderHandler(svc)
	authenticate := middleware.Authenticate(testSecret)
	r := chi.NewRouter()
	r.Route("/orders", func(r chi.Router) {
		h.RegisterRoutes(r, authenticate)
	})
	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(authenticate, middleware.RequireRole(enum.UserRoleAdmin))
		h.RegisterAdminRoutes(r)
	})
	return r
}

func tokenFor(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// --- Create tests ---

func TestCreateOrder_Success(t *testing.T) {
	userID := uuid.New()
	var got service.CreateOrderRequest
	svc := &mockOrderService{
		createFn: func(_ context.Context, req service.CreateOrderRequest) (database.Order, error) {
			got = req
			return sampleOrder(t, req.UserID), nil
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodPost, "/orders", map[string]interface{}{
		"customerInfo": map[string]interface{}{
			"name":  " Asha Rao ",
			"phone": "9876543210",
			"address": map[string]interface{}{
				"street": "12 MG Road", "city": "Pune", "state": "MH", "zipCode": "411001",
			},
		},
		"items": []map[string]interface{}{{
			"base": "b", "sauce": "s", "cheese": "c",
			"vegetables": []string{"v1"}, "size": "medium", "quantity": 2,
		}},
		"notes": "ring twice",
	}, tokenFor(t, userID, enum.UserRoleCustomer))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got.UserID != userID {
		t.Errorf("user: got %s, want %s", got.UserID, userID)
	}
	if got.Customer.Name != "Asha Rao" || got.Address.ZipCode != "411001" {
		t.Errorf("request mapping: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].BaseID != "b" || got.Items[0].VegetableIDs[0] != "v1" || got.Items[0].Quantity != 2 {
		t.Errorf("items mapping: %+v", got.Items)
	}

	resp := decodeResponse(t, rr)
	if resp["message"] != "Order created successfully" {
		t.Errorf("message: got %v", resp["message"])
	}
	order := responseData(t, resp)["order"].(map[string]interface{})
	if order["orderNumber"] != "PZ-20260314-007" {
		t.Errorf("orderNumber: got %v", order["orderNumber"])
	}
	pricing := order["pricing"].(map[string]interface{})
	if pricing["total"] != "2147.32" || pricing["tax"] != "144.32" {
		t.Errorf("pricing: got %v", pricing)
	}
	address := order["customerInfo"].(map[string]interface{})["address"].(map[string]interface{})
	if address["zipCode"] != "411001" {
		t.Errorf("address: got %v", address)
	}
	item := order["items"].([]interface{})[0].(map[string]interface{})
	if item["unitPrice"] != "902.00" || item["quantity"] != float64(2) {
		t.Errorf("item: got %v", item)
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"insufficient stock", fmt.Errorf("%w for Mushrooms", service.ErrInsufficientStock), http.StatusBadRequest, "insufficient stock for Mushrooms"},
		{"item validation", fmt.Errorf("item[0]: %w", service.ErrInvalidSize), http.StatusBadRequest, "item[0]: size must be small, medium or large"},
		{"online payment", service.ErrPaymentRequired, http.StatusBadRequest, service.ErrPaymentRequired.Error()},
		{"infrastructure", errors.New("begin tx: connection refused"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{
				createFn: func(context.Context, service.CreateOrderRequest) (database.Order, error) {
					return database.Order{}, tt.err
				},
			}
			r := newOrderRouter(svc)
			rr := doJSON(t, r, http.MethodPost, "/orders", map[string]interface{}{"items": []interface{}{}},
				tokenFor(t, uuid.New(), enum.UserRoleCustomer))
			assertMessage(t, rr, tt.status, tt.message)
		})
	}
}

func TestCreateOrder_RequiresToken(t *testing.T) {
	r := newOrderRouter(&mockOrderService{})

	assertMessage(t, doJSON(t, r, http.MethodPost, "/orders", map[string]interface{}{}, ""), http.StatusUnauthorized, "Access token required")
}

// --- Read tests ---

func TestListOrders_Pagination(t *testing.T) {
	userID := uuid.New()
	var gotStatus string
	var gotPage, gotLimit int
	svc := &mockOrderService{
		listForUserFn: func(_ context.Context, uid uuid.UUID, status string, page, limit int) (service.OrderPage, error) {
			gotStatus, gotPage, gotLimit = status, page, limit
			return service.OrderPage{Orders: []database.Order{sampleOrder(t, uid)}, Total: 21, Page: page, Limit: limit}, nil
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodGet, "/orders?status=pending&page=3", nil, tokenFor(t, userID, enum.UserRoleCustomer))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if gotStatus != "pending" || gotPage != 3 || gotLimit != 10 {
		t.Errorf("args: status=%q page=%d limit=%d", gotStatus, gotPage, gotLimit)
	}
	data := responseData(t, decodeResponse(t, rr))
	p := data["pagination"].(map[string]interface{})
	if p["currentPage"] != float64(3) || p["totalPages"] != float64(3) || p["totalItems"] != float64(21) || p["itemsPerPage"] != float64(10) {
		t.Errorf("pagination: got %v", p)
	}
	if len(data["orders"].([]interface{})) != 1 {
		t.Errorf("orders: got %v", data["orders"])
	}
}

func TestGetOrder_NotOwned(t *testing.T) {
	svc := &mockOrderService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (database.Order, error) {
			return database.Order{}, service.ErrOrderNotFound
		},
	}
	r := newOrderRouter(svc)
	token := tokenFor(t, uuid.New(), enum.UserRoleCustomer)

	assertMessage(t, doJSON(t, r, http.MethodGet, "/orders/"+uuid.New().String(), nil, token), http.StatusNotFound, "Order not found")
	assertMessage(t, doJSON(t, r, http.MethodGet, "/orders/nope", nil, token), http.StatusBadRequest, "Invalid order ID")
}

func TestTrackOrder_Public(t *testing.T) {
	eta := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	svc := &mockOrderService{
		trackFn: func(_ context.Context, number string) (service.Tracking, error) {
			if number != "PZ-20260314-007" {
				return service.Tracking{}, service.ErrOrderNotFound
			}
			return service.Tracking{
				OrderNumber:         number,
				Status:              enum.OrderStatusPreparing,
				Progress:            40,
				EstimatedDeliveryAt: &eta,
				Items:               []service.TrackingItem{{Name: "Custom Pizza", Quantity: 2, Size: "medium"}},
				CustomerName:        "Asha Rao",
			}, nil
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodGet, "/orders/track/PZ-20260314-007", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	tracking := responseData(t, decodeResponse(t, rr))["tracking"].(map[string]interface{})
	if tracking["progress"] != float64(40) || tracking["status"] != "preparing" {
		t.Errorf("tracking: got %v", tracking)
	}
	if tracking["actualDeliveryTime"] != nil {
		t.Errorf("actualDeliveryTime: got %v, want null", tracking["actualDeliveryTime"])
	}
	if len(tracking["items"].([]interface{})) != 1 {
		t.Errorf("items: got %v", tracking["items"])
	}

	assertMessage(t, doJSON(t, r, http.MethodGet, "/orders/track/PZ-00000000-001", nil, ""), http.StatusNotFound, "Order not found")
}

// --- Cancel tests ---

func TestCancelOrder(t *testing.T) {
	userID := uuid.New()
	var gotReason string
	svc := &mockOrderService{
		cancelFn: func(_ context.Context, uid, _ uuid.UUID, reason string) (database.Order, error) {
			gotReason = reason
			o := sampleOrder(t, uid)
			o.Status = enum.OrderStatusCancelled
			return o, nil
		},
	}
	r := newOrderRouter(svc)
	token := tokenFor(t, userID, enum.UserRoleCustomer)

	rr := doJSON(t, r, http.MethodPut, "/orders/"+uuid.New().String()+"/cancel", map[string]string{"reason": "changed my mind"}, token)
	assertMessage(t, rr, http.StatusOK, "Order cancelled successfully")
	if gotReason != "changed my mind" {
		t.Errorf("reason: got %q", gotReason)
	}

	rr = doJSON(t, r, http.MethodPut, "/orders/"+uuid.New().String()+"/cancel", nil, token)
	assertMessage(t, rr, http.StatusOK, "Order cancelled successfully")
	if gotReason != "" {
		t.Errorf("reason without body: got %q, want empty", gotReason)
	}
}

func TestCancelOrder_TooLate(t *testing.T) {
	svc := &mockOrderService{
		cancelFn: func(context.Context, uuid.UUID, uuid.UUID, string) (database.Order, error) {
			return database.Order{}, service.ErrNotCancellable
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodPut, "/orders/"+uuid.New().String()+"/cancel", nil, tokenFor(t, uuid.New(), enum.UserRoleCustomer))

	assertMessage(t, rr, http.StatusConflict, "Order cannot be cancelled at this stage")
}

// --- Admin tests ---

func TestAdminOrders_RequiresAdmin(t *testing.T) {
	r := newOrderRouter(&mockOrderService{})

	rr := doJSON(t, r, http.MethodGet, "/admin/orders", nil, tokenFor(t, uuid.New(), enum.UserRoleCustomer))

	assertMessage(t, rr, http.StatusForbidden, "Admin access required")
}

func TestAdminListOrders_Filter(t *testing.T) {
	var got service.AdminOrderFilter
	svc := &mockOrderService{
		listAllFn: func(_ context.Context, f service.AdminOrderFilter) (service.OrderPage, error) {
			got = f
			return service.OrderPage{Page: f.Page, Limit: f.Limit}, nil
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodGet, "/admin/orders?status=ready&date=2026-03-14&search=asha", nil, tokenFor(t, uuid.New(), enum.UserRoleAdmin))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	want := service.AdminOrderFilter{Status: "ready", Date: "2026-03-14", Search: "asha", Page: 1, Limit: 20}
	if got != want {
		t.Errorf("filter: got %+v, want %+v", got, want)
	}
	orders := responseData(t, decodeResponse(t, rr))["orders"].([]interface{})
	if len(orders) != 0 {
		t.Errorf("orders: got %v, want empty list", orders)
	}
}

func TestAdminListOrders_InvalidDate(t *testing.T) {
	svc := &mockOrderService{
		listAllFn: func(context.Context, service.AdminOrderFilter) (service.OrderPage, error) {
			return service.OrderPage{}, service.ErrInvalidDate
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodGet, "/admin/orders?date=14-03-2026", nil, tokenFor(t, uuid.New(), enum.UserRoleAdmin))

	assertMessage(t, rr, http.StatusBadRequest, service.ErrInvalidDate.Error())
}

func TestAdminStats(t *testing.T) {
	svc := &mockOrderService{
		statsFn: func(context.Context) (service.OrderStats, error) {
			return service.OrderStats{
				TodayOrders:     4,
				TodayRevenue:    decimal.RequireFromString("2147.32"),
				MonthlyRevenue:  decimal.RequireFromString("10000"),
				StatusBreakdown: map[string]int64{"pending": 3, "delivered": 1},
			}, nil
		},
	}
	r := newOrderRouter(svc)

	rr := doJSON(t, r, http.MethodGet, "/admin/orders/stats", nil, tokenFor(t, uuid.New(), enum.UserRoleAdmin))

	data := responseData(t, decodeResponse(t, rr))
	if data["todayOrders"] != float64(4) || data["todayRevenue"] != "2147.32" || data["monthlyRevenue"] != "10000.00" {
		t.Errorf("stats: got %v", data)
	}
	if data["statusBreakdown"].(map[string]interface{})["pending"] != float64(3) {
		t.Errorf("breakdown: got %v", data["statusBreakdown"])
	}
}

func TestAdminUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"ok", nil, http.StatusOK, "Order status updated successfully"},
		{"unknown status", service.ErrInvalidStatus, http.StatusBadRequest, "Invalid order status"},
		{"backwards", fmt.Errorf("%w: ready to pending", service.ErrInvalidTransition), http.StatusConflict, "invalid status transition: ready to pending"},
		{"race", service.ErrStatusConflict, http.StatusConflict, service.ErrStatusConflict.Error()},
		{"missing", service.ErrOrderNotFound, http.StatusNotFound, "Order not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotNext, gotNotes string
			svc := &mockOrderService{
				updateStatusFn: func(_ context.Context, _ uuid.UUID, next, notes string) (database.Order, error) {
					gotNext, gotNotes = next, notes
					if tt.err != nil {
						return database.Order{}, tt.err
					}
					o := sampleOrder(t, uuid.New())
					o.Status = next
					return o, nil
				},
			}
			r := newOrderRouter(svc)

			rr := doJSON(t, r, http.MethodPut, "/admin/orders/"+uuid.New().String()+"/status",
				map[string]string{"status": " preparing ", "adminNotes": "oven 2"}, tokenFor(t, uuid.New(), enum.UserRoleAdmin))

			assertMessage(t, rr, tt.status, tt.message)
			if gotNext != "preparing" || gotNotes != "oven 2" {
				t.Errorf("args: next=%q notes=%q", gotNext, gotNotes)
			}
		})
	}
}
