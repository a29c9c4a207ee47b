package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/middleware"
	"github.com/pizzacraft/api/internal/service"
)

const (
	defaultOrderPageSize      = 10
	defaultAdminOrderPageSize = 20
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	Create(ctx context.Context, req service.CreateOrderRequest) (database.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (database.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status string, page, limit int) (service.OrderPage, error)
	ListAll(ctx context.Context, f service.AdminOrderFilter) (service.OrderPage, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (database.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, next, adminNotes string) (database.Order, error)
	Track(ctx context.Context, orderNumber string) (service.Tracking, error)
	Stats(ctx context.Context) (service.OrderStats, error)
}

// OrderHandler handles customer and admin order endpoints.
type OrderHandler struct {
	svc OrderServicer
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// RegisterRoutes registers customer order endpoints under /orders. Tracking
// is public; the rest need a bearer token.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Get("/track/{orderNumber}", h.Track)

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/cancel", h.Cancel)
	})
}

// RegisterAdminRoutes registers admin order endpoints under /admin/orders.
// The caller applies admin middleware.
func (h *OrderHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/", h.AdminList)
	r.Get("/stats", h.Stats)
	r.Put("/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type createOrderRequest struct {
	CustomerInfo  customerInfoRequest      `json:"customerInfo"`
	Items         []createOrderItemRequest `json:"items"`
	PaymentMethod string                   `json:"paymentMethod"`
	Notes         string                   `json:"notes"`
}

type customerInfoRequest struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	Street      string                `json:"street"`
	City        string                `json:"city"`
	State       string                `json:"state"`
	ZipCode     string                `json:"zipCode"`
	Coordinates *database.Coordinates `json:"coordinates,omitempty"`
}

// createOrderItemRequest references ingredients by id. Prices sent by the
// client are ignored.
type createOrderItemRequest struct {
	Name       string   `json:"name"`
	Base       string   `json:"base"`
	Sauce      string   `json:"sauce"`
	Cheese     string   `json:"cheese"`
	Vegetables []string `json:"vegetables"`
	Meat       []string `json:"meat"`
	Size       string   `json:"size"`
	Quantity   int      `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"adminNotes"`
}

type orderResponse struct {
	ID                    uuid.UUID             `json:"id"`
	OrderNumber           string                `json:"orderNumber"`
	CustomerInfo          customerInfoResponse  `json:"customerInfo"`
	Items                 []orderItemResponse   `json:"items"`
	Pricing               pricingResponse       `json:"pricing"`
	PaymentMethod         string                `json:"paymentMethod"`
	PaymentStatus         string                `json:"paymentStatus"`
	PaymentDetails        *paymentDetails       `json:"paymentDetails,omitempty"`
	RefundedAmount        string                `json:"refundedAmount"`
	Status                string                `json:"status"`
	EstimatedDeliveryTime *time.Time            `json:"estimatedDeliveryTime"`
	ActualDeliveryTime    *time.Time            `json:"actualDeliveryTime"`
	Notes                 *string               `json:"notes"`
	AdminNotes            *string               `json:"adminNotes"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
}

type customerInfoResponse struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	Address addressPayload `json:"address"`
}

type orderItemResponse struct {
	ID         uuid.UUID            `json:"id"`
	Name       string               `json:"name"`
	Base       ingredientResponse   `json:"base"`
	Sauce      ingredientResponse   `json:"sauce"`
	Cheese     ingredientResponse   `json:"cheese"`
	Vegetables []ingredientResponse `json:"vegetables"`
	Meat       []ingredientResponse `json:"meat"`
	Size       string               `json:"size"`
	Quantity   int                  `json:"quantity"`
	UnitPrice  string               `json:"unitPrice"`
	TotalPrice string               `json:"totalPrice"`
}

type ingredientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price string    `json:"price"`
}

type pricingResponse struct {
	Subtotal    string `json:"subtotal"`
	Tax         string `json:"tax"`
	DeliveryFee string `json:"deliveryFee"`
	Discount    string `json:"discount"`
	Total       string `json:"total"`
}

type paymentDetails struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
}

type trackingResponse struct {
	OrderNumber           string                 `json:"orderNumber"`
	Status                string                 `json:"status"`
	Progress              int                    `json:"progress"`
	EstimatedDeliveryTime *time.Time             `json:"estimatedDeliveryTime"`
	ActualDeliveryTime    *time.Time             `json:"actualDeliveryTime"`
	CreatedAt             time.Time              `json:"createdAt"`
	Items                 []trackingItemResponse `json:"items"`
	CustomerName          string                 `json:"customerName"`
}

type trackingItemResponse struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Size     string `json:"size"`
}

type statsResponse struct {
	TodayOrders     int64            `json:"todayOrders"`
	TodayRevenue    string           `json:"todayRevenue"`
	MonthlyRevenue  string           `json:"monthlyRevenue"`
	StatusBreakdown map[string]int64 `json:"statusBreakdown"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	Pagination pagination      `json:"pagination"`
}

// --- Handlers ---

// Create places a cash-on-delivery order. Online payments go through
// /payment/verify instead.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.svc.Create(r.Context(), toServiceOrderRequest(claims.UserID, req))
	if err != nil {
		writeOrderError(w, "create order", err)
		return
	}

	resp, err := toOrderResponse(order)
	if err != nil {
		writeInternalError(w, "encode order", err)
		return
	}
	writeData(w, http.StatusCreated, "Order created successfully", map[string]orderResponse{"order": resp})
}

// List returns the caller's orders, newest first.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	page, err := h.svc.ListForUser(r.Context(), claims.UserID,
		r.URL.Query().Get("status"),
		queryInt(r, "page", 1),
		queryInt(r, "limit", defaultOrderPageSize),
	)
	if err != nil {
		writeOrderError(w, "list orders", err)
		return
	}

	h.writePage(w, page)
}

// Get returns one of the caller's orders.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.svc.Get(r.Context(), claims.UserID, id)
	if err != nil {
		writeOrderError(w, "get order", err)
		return
	}

	resp, err := toOrderResponse(order)
	if err != nil {
		writeInternalError(w, "encode order", err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]orderResponse{"order": resp})
}

// Cancel cancels one of the caller's orders. The body is optional.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req cancelOrderRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.svc.Cancel(r.Context(), claims.UserID, id, req.Reason); err != nil {
		writeOrderError(w, "cancel order", err)
		return
	}

	writeMessage(w, http.StatusOK, "Order cancelled successfully")
}

// Track returns the public tracking view of an order.
func (h *OrderHandler) Track(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Track(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeOrderError(w, "track order", err)
		return
	}

	resp := trackingResponse{
		OrderNumber:           t.OrderNumber,
		Status:                t.Status,
		Progress:              t.Progress,
		EstimatedDeliveryTime: t.EstimatedDeliveryAt,
		ActualDeliveryTime:    t.ActualDeliveryAt,
		CreatedAt:             t.CreatedAt,
		Items:                 make([]trackingItemResponse, len(t.Items)),
		CustomerName:          t.CustomerName,
	}
	for i, it := range t.Items {
		resp.Items[i] = trackingItemResponse{Name: it.Name, Quantity: it.Quantity, Size: it.Size}
	}
	writeData(w, http.StatusOK, "", map[string]trackingResponse{"tracking": resp})
}

// AdminList returns all orders with ?status=, ?date=YYYY-MM-DD and ?search=.
func (h *OrderHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.ListAll(r.Context(), service.AdminOrderFilter{
		Status: q.Get("status"),
		Date:   q.Get("date"),
		Search: q.Get("search"),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", defaultAdminOrderPageSize),
	})
	if err != nil {
		writeOrderError(w, "list all orders", err)
		return
	}

	h.writePage(w, page)
}

// Stats returns dashboard figures.
func (h *OrderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeInternalError(w, "order stats", err)
		return
	}

	writeData(w, http.StatusOK, "", statsResponse{
		TodayOrders:     stats.TodayOrders,
		TodayRevenue:    stats.TodayRevenue.StringFixed(2),
		MonthlyRevenue:  stats.MonthlyRevenue.StringFixed(2),
		StatusBreakdown: stats.StatusBreakdown,
	})
}

// UpdateStatus moves an order to the next fulfilment status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, strings.TrimSpace(req.Status), req.AdminNotes)
	if err != nil {
		writeOrderError(w, "update order status", err)
		return
	}

	resp, err := toOrderResponse(order)
	if err != nil {
		writeInternalError(w, "encode order", err)
		return
	}
	writeData(w, http.StatusOK, "Order status updated successfully", map[string]orderResponse{"order": resp})
}

// --- Helpers ---

func (h *OrderHandler) writePage(w http.ResponseWriter, page service.OrderPage) {
	orders := make([]orderResponse, 0, len(page.Orders))
	for _, o := range page.Orders {
		resp, err := toOrderResponse(o)
		if err != nil {
			writeInternalError(w, "encode order", err)
			return
		}
		orders = append(orders, resp)
	}

	writeData(w, http.StatusOK, "", orderListResponse{
		Orders: orders,
		Pagination: pagination{
			CurrentPage:  page.Page,
			TotalPages:   page.TotalPages(),
			TotalItems:   page.Total,
			ItemsPerPage: page.Limit,
		},
	})
}

// writeOrderError maps service errors to HTTP statuses.
func writeOrderError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "Invalid order status")
	case errors.Is(err, service.ErrNotCancellable):
		writeError(w, http.StatusConflict, "Order cannot be cancelled at this stage")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrStatusConflict):
		writeError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternalError(w, op, err)
	}
}

// isValidationError checks if the error is a known validation error
// from the service layer that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidSize) ||
		errors.Is(err, service.ErrInvalidIngredient) ||
		errors.Is(err, service.ErrMissingIngredient) ||
		errors.Is(err, service.ErrIngredientNotFound) ||
		errors.Is(err, service.ErrIngredientInactive) ||
		errors.Is(err, service.ErrWrongCategory) ||
		errors.Is(err, service.ErrInsufficientStock) ||
		errors.Is(err, service.ErrAddressRequired) ||
		errors.Is(err, service.ErrCustomerRequired) ||
		errors.Is(err, service.ErrInvalidPayment) ||
		errors.Is(err, service.ErrPaymentRequired) ||
		errors.Is(err, service.ErrAmountMismatch) ||
		errors.Is(err, service.ErrInvalidDate)
}

func toServiceOrderRequest(userID uuid.UUID, req createOrderRequest) service.CreateOrderRequest {
	items := make([]service.CreateOrderItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.CreateOrderItemRequest{
			Name:         it.Name,
			BaseID:       it.Base,
			SauceID:      it.Sauce,
			CheeseID:     it.Cheese,
			VegetableIDs: it.Vegetables,
			MeatIDs:      it.Meat,
			Size:         it.Size,
			Quantity:     it.Quantity,
		}
	}
	c := req.CustomerInfo
	return service.CreateOrderRequest{
		UserID: userID,
		Customer: service.CustomerInfo{
			Name:  strings.TrimSpace(c.Name),
			Email: strings.TrimSpace(c.Email),
			Phone: strings.TrimSpace(c.Phone),
		},
		Address: database.Address{
			Street:      strings.TrimSpace(c.Address.Street),
			City:        strings.TrimSpace(c.Address.City),
			State:       strings.TrimSpace(c.Address.State),
			ZipCode:     strings.TrimSpace(c.Address.ZipCode),
			Coordinates: c.Address.Coordinates,
		},
		Items:         items,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Notes:         strings.TrimSpace(req.Notes),
	}
}

func toOrderResponse(o database.Order) (orderResponse, error) {
	lines, err := o.LineItems()
	if err != nil {
		return orderResponse{}, err
	}
	addr, err := o.Address()
	if err != nil {
		return orderResponse{}, err
	}

	resp := orderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerInfo: customerInfoResponse{
			Name:  o.CustomerName,
			Email: o.CustomerEmail,
			Phone: o.CustomerPhone,
			Address: addressPayload{
				Street:      addr.Street,
				City:        addr.City,
				State:       addr.State,
				ZipCode:     addr.ZipCode,
				Coordinates: addr.Coordinates,
			},
		},
		Items: make([]orderItemResponse, len(lines)),
		Pricing: pricingResponse{
			Subtotal:    database.NumericString(o.Subtotal),
			Tax:         database.NumericString(o.Tax),
			DeliveryFee: database.NumericString(o.DeliveryFee),
			Discount:    database.NumericString(o.Discount),
			Total:       database.NumericString(o.Total),
		},
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		RefundedAmount: database.NumericString(o.RefundedAmount),
		Status:         o.Status,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for i, l := range lines {
		resp.Items[i] = toOrderItemResponse(l)
	}
	if o.GatewayPaymentID.Valid {
		resp.PaymentDetails = &paymentDetails{
			GatewayOrderID:   o.GatewayOrderID.String,
			GatewayPaymentID: o.GatewayPaymentID.String,
		}
	}
	if o.EstimatedDeliveryAt.Valid {
		t := o.EstimatedDeliveryAt.Time
		resp.EstimatedDeliveryTime = &t
	}
	if o.ActualDeliveryAt.Valid {
		t := o.ActualDeliveryAt.Time
		resp.ActualDeliveryTime = &t
	}
	if o.Notes.Valid {
		resp.Notes = &o.Notes.String
	}
	if o.AdminNotes.Valid {
		resp.AdminNotes = &o.AdminNotes.String
	}
	return resp, nil
}

func toOrderItemResponse(l database.LineItem) orderItemResponse {
	return orderItemResponse{
		ID:         l.ID,
		Name:       l.Name,
		Base:       toIngredientResponse(l.Base),
		Sauce:      toIngredientResponse(l.Sauce),
		Cheese:     toIngredientResponse(l.Cheese),
		Vegetables: toIngredientList(l.Vegetables),
		Meat:       toIngredientList(l.Meat),
		Size:       l.Size,
		Quantity:   l.Quantity,
		UnitPrice:  l.UnitPrice.StringFixed(2),
		TotalPrice: l.TotalPrice.StringFixed(2),
	}
}

func toIngredientResponse(ref database.IngredientRef) ingredientResponse {
	return ingredientResponse{ID: ref.ID, Name: ref.Name, Price: ref.Price.StringFixed(2)}
}

func toIngredientList(refs []database.IngredientRef) []ingredientResponse {
	out := make([]ingredientResponse, len(refs))
	for i, ref := range refs {
		out[i] = toIngredientResponse(ref)
	}
	return out
}
