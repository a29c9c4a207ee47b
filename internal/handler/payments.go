package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pizzacraft/api/internal/gateway"
	"github.com/pizzacraft/api/internal/middleware"
	"github.com/pizzacraft/api/internal/pricing"
	"github.com/pizzacraft/api/internal/service"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	checkoutName        = "PizzaCraft"
	checkoutDescription = "Fresh pizza delivered hot to your door"
)

// PaymentServicer defines the service methods needed by payment handlers.
// Satisfied by *service.PaymentService; narrow interface for testability.
type PaymentServicer interface {
	KeyID() string
	CreateGatewayOrder(ctx context.Context, amount decimal.Decimal, currency string) (service.GatewayOrder, error)
	VerifyPayment(ctx context.Context, req service.VerifyPaymentRequest) (service.VerifyResult, error)
	RecordFailure(ctx context.Context, gatewayOrderID, gatewayPaymentID, reason string)
	PaymentStatus(ctx context.Context, paymentID string) (*gateway.Payment, error)
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (service.RefundResult, error)
}

// PaymentHandler handles checkout endpoints.
type PaymentHandler struct {
	svc PaymentServicer
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// RegisterRoutes registers payment endpoints under /payment.
func (h *PaymentHandler) RegisterRoutes(r chi.Router, authenticate, admin func(http.Handler) http.Handler) {
	r.Get("/config", h.Config)
	r.Post("/failure", h.Failure)

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/create-order", h.CreateOrder)
		r.Post("/verify", h.Verify)
		r.Get("/status/{paymentId}", h.Status)
		r.With(admin).Post("/refund", h.Refund)
	})
}

// --- Request / Response types ---

type createGatewayOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// verifyPaymentRequest uses the field names the checkout widget hands back.
type verifyPaymentRequest struct {
	GatewayOrderID   string             `json:"razorpay_order_id"`
	GatewayPaymentID string             `json:"razorpay_payment_id"`
	Signature        string             `json:"razorpay_signature"`
	OrderData        createOrderRequest `json:"orderData"`
}

type paymentFailureRequest struct {
	GatewayOrderID   string          `json:"razorpay_order_id"`
	GatewayPaymentID string          `json:"razorpay_payment_id"`
	Error            json.RawMessage `json:"error"`
}

type refundRequest struct {
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type checkoutConfigResponse struct {
	Key         string `json:"key"`
	Currency    string `json:"currency"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type gatewayOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Key      string `json:"key"`
}

type verifyResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

// paymentStatusResponse mirrors the gateway record; amount is in paise.
type paymentStatusResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	Captured  bool   `json:"captured"`
	CreatedAt int64  `json:"created_at"`
}

type refundResponse struct {
	RefundID      string `json:"refundId"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	OrderNumber   string `json:"orderNumber,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
}

// --- Handlers ---

// Config returns what the checkout widget needs to open.
func (h *PaymentHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "", checkoutConfigResponse{
		Key:         h.svc.KeyID(),
		Currency:    pricing.Currency,
		Name:        checkoutName,
		Description: checkoutDescription,
	})
}

// CreateOrder opens a gateway order for the amount the client will pay.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createGatewayOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.svc.CreateGatewayOrder(r.Context(), req.Amount, req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Amount must be greater than 0")
		case errors.Is(err, service.ErrInvalidCurrency):
			writeError(w, http.StatusBadRequest, "Unsupported currency")
		default:
			log.WithError(err).Error("create payment order failed")
			writeError(w, http.StatusInternalServerError, "Failed to create payment order")
		}
		return
	}

	writeData(w, http.StatusOK, "", gatewayOrderResponse{
		OrderID:  o.OrderID,
		Amount:   o.Amount,
		Currency: o.Currency,
		Key:      o.KeyID,
	})
}

// Verify checks the checkout callback and places the paid order.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.svc.VerifyPayment(r.Context(), service.VerifyPaymentRequest{
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
		Order:            toServiceOrderRequest(claims.UserID, req.OrderData),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentDetails):
			writeError(w, http.StatusBadRequest, "Payment details are required")
		case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrPaymentMismatch):
			writeError(w, http.StatusBadRequest, "Payment verification failed")
		case errors.Is(err, service.ErrPaymentNotCaptured):
			writeError(w, http.StatusBadRequest, "Payment has not been completed")
		case errors.Is(err, service.ErrPaymentInProgress):
			writeError(w, http.StatusConflict, "Payment is already being processed")
		case errors.Is(err, service.ErrPaymentRefunded):
			writeError(w, http.StatusBadRequest, "Order could not be placed and the payment was refunded: "+
				strings.TrimPrefix(err.Error(), service.ErrPaymentRefunded.Error()+": "))
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrGatewayUnavailable):
			log.WithError(err).Error("verify payment failed")
			writeError(w, http.StatusInternalServerError, "Payment verification failed")
		default:
			writeInternalError(w, "verify payment", err)
		}
		return
	}

	status, message := http.StatusCreated, "Payment verified and order created successfully"
	if res.Duplicate {
		status, message = http.StatusOK, "Payment already verified"
	}
	writeData(w, status, message, verifyResponse{
		OrderID:     res.Order.ID.String(),
		OrderNumber: res.Order.OrderNumber,
	})
}

// Failure records a failed checkout reported by the client.
func (h *PaymentHandler) Failure(w http.ResponseWriter, r *http.Request) {
	var req paymentFailureRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.svc.RecordFailure(r.Context(), req.GatewayOrderID, req.GatewayPaymentID, failureReason(req.Error))
	writeMessage(w, http.StatusOK, "Payment failure recorded")
}

// Status returns the gateway's record of a payment.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.PaymentStatus(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		log.WithError(err).Error("fetch payment status failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch payment status")
		return
	}

	writeData(w, http.StatusOK, "", paymentStatusResponse{
		ID:        p.ID,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		Captured:  p.Captured,
		CreatedAt: p.CreatedAt,
	})
}

// Refund refunds a payment in full, or partially when amount is set.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "paymentId is required")
		return
	}

	res, err := h.svc.Refund(r.Context(), req.PaymentID, req.Amount, req.Reason)
	if err != nil && res.Refund == nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Amount must not be negative")
		case errors.Is(err, service.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "Payment not found")
		default:
			log.WithError(err).Error("refund failed")
			writeError(w, http.StatusInternalServerError, "Failed to process refund")
		}
		return
	}
	// A recording error after a successful refund is logged by the service;
	// the money has moved, so the caller still gets the refund.

	resp := refundResponse{
		RefundID: res.Refund.ID,
		Amount:   res.Refund.Amount,
		Status:   res.Refund.Status,
	}
	if res.Order != nil {
		resp.OrderNumber = res.Order.OrderNumber
		resp.PaymentStatus = res.Order.PaymentStatus
	}
	writeData(w, http.StatusOK, "Refund processed successfully", resp)
}

// --- Helpers ---

// failureReason accepts the widget's error object or a plain string.
func failureReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		parts := make([]string, 0, 3)
		for _, p := range []string{obj.Code, obj.Description, obj.Reason} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ": ")
	}
	return string(raw)
}
