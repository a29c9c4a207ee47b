package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/gateway"
	"github.com/pizzacraft/api/internal/idempotency"
	"github.com/pizzacraft/api/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	gatewayPaymentConstraint = "orders_gateway_payment_id_key"
	defaultRefundReason      = "Customer request"
	autoRefundReason         = "Order could not be placed"
)

// Errors returned by the payment service.
var (
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrInvalidCurrency    = errors.New("unsupported currency")
	ErrPaymentDetails     = errors.New("gateway order id, payment id and signature are required")
	ErrInvalidSignature   = errors.New("invalid payment signature")
	ErrPaymentInProgress  = errors.New("payment is already being processed")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentRefunded    = errors.New("payment refunded")
	ErrPaymentNotCaptured = errors.New("payment has not been completed")
	ErrPaymentMismatch    = errors.New("payment does not belong to this checkout")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// PaymentGateway is the subset of the gateway client used here.
// Satisfied by *gateway.Client.
type PaymentGateway interface {
	KeyID() string
	Configured() bool
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	Refund(ctx context.Context, paymentID string, amount int64, reason string) (*gateway.Refund, error)
}

// OrderCreator places orders. Satisfied by *OrderService.
type OrderCreator interface {
	Create(ctx context.Context, req CreateOrderRequest) (database.Order, error)
}

// PaymentStore defines the DB methods the payment service needs.
// Satisfied by *database.Queries; narrow interface for testability.
type PaymentStore interface {
	GetOrderByGatewayPaymentID(ctx context.Context, paymentID string) (database.Order, error)
	RecordRefund(ctx context.Context, arg database.RecordRefundParams) (database.Order, error)
}

// PaymentConfig configures a PaymentService.
type PaymentConfig struct {
	// KeySecret signs checkout callbacks.
	KeySecret string
	// Guard rejects concurrent callbacks for one payment. Nil disables it.
	Guard idempotency.Guard
	Log   logrus.FieldLogger
}

// PaymentService bridges the payment gateway and order placement.
type PaymentService struct {
	gw     PaymentGateway
	orders OrderCreator
	store  PaymentStore
	secret string
	guard  idempotency.Guard
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewPaymentService(gw PaymentGateway, orders OrderCreator, store PaymentStore, cfg PaymentConfig) *PaymentService {
	guard := cfg.Guard
	if guard == nil {
		guard = idempotency.Noop{}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PaymentService{
		gw:     gw,
		orders: orders,
		store:  store,
		secret: cfg.KeySecret,
		guard:  guard,
		log:    log,
		now:    time.Now,
	}
}

// GatewayOrder is what the checkout widget needs to open a payment.
type GatewayOrder struct {
	OrderID  string
	Amount   int64
	Currency string
	KeyID    string
}

// VerifyPaymentRequest is the checkout callback plus the order to place.
type VerifyPaymentRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Order            CreateOrderRequest
}

// VerifyResult is the placed order. Duplicate is set when the payment had
// already produced an order.
type VerifyResult struct {
	Order     database.Order
	Duplicate bool
}

// RefundResult is the gateway refund and, when one exists, the updated order.
type RefundResult struct {
	Refund *gateway.Refund
	Order  *database.Order
}

// KeyID returns the public gateway key for the checkout widget.
func (s *PaymentService) KeyID() string {
	return s.gw.KeyID()
}

// CreateGatewayOrder opens a gateway order for amount rupees. Nothing is
// stored locally.
func (s *PaymentService) CreateGatewayOrder(ctx context.Context, amount decimal.Decimal, currency string) (GatewayOrder, error) {
	if !amount.IsPositive() {
		return GatewayOrder{}, ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = pricing.Currency
	}
	if currency != pricing.Currency {
		return GatewayOrder{}, ErrInvalidCurrency
	}
	if !s.gw.Configured() {
		return GatewayOrder{}, fmt.Errorf("%w: credentials not configured", ErrGatewayUnavailable)
	}

	receipt := fmt.Sprintf("receipt_%d", s.now().UnixMilli())
	o, err := s.gw.CreateOrder(ctx, pricing.ToMinorUnits(amount), currency, receipt)
	if err != nil {
		s.log.WithError(err).WithField("receipt", receipt).Error("gateway create order failed")
		return GatewayOrder{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return GatewayOrder{
		OrderID:  o.ID,
		Amount:   o.Amount,
		Currency: o.Currency,
		KeyID:    s.gw.KeyID(),
	}, nil
}

// VerifyPayment checks the callback signature and places the paid order.
// Replays of the same payment return the order created the first time.
func (s *PaymentService) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (VerifyResult, error) {
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return VerifyResult{}, ErrPaymentDetails
	}
	if !gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature, s.secret) {
		s.log.WithFields(logrus.Fields{
			"gateway_order_id":   req.GatewayOrderID,
			"gateway_payment_id": req.GatewayPaymentID,
		}).Warn("payment signature mismatch")
		return VerifyResult{}, ErrInvalidSignature
	}

	log := s.log.WithField("gateway_payment_id", req.GatewayPaymentID)

	key := idempotency.PaymentKey(req.GatewayPaymentID)
	claimed, err := s.guard.Claim(ctx, key)
	switch {
	case err != nil:
		// The unique constraint on the payment id still holds.
		log.WithError(err).Warn("idempotency guard unavailable")
	case !claimed:
		return VerifyResult{}, ErrPaymentInProgress
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			log.WithError(err).Warn("release idempotency key")
		}
	}()

	if existing, ok, err := s.existingOrder(ctx, req.GatewayPaymentID); err != nil {
		return VerifyResult{}, err
	} else if ok {
		return VerifyResult{Order: existing, Duplicate: true}, nil
	}

	payment, err := s.gw.FetchPayment(ctx, req.GatewayPaymentID)
	if err != nil {
		log.WithError(err).Error("fetch payment for verification")
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if payment.OrderID != req.GatewayOrderID {
		log.WithFields(logrus.Fields{
			"gateway_order_id": req.GatewayOrderID,
			"payment_order_id": payment.OrderID,
		}).Warn("payment belongs to another gateway order")
		return VerifyResult{}, ErrPaymentMismatch
	}
	if !isSettled(payment) {
		log.WithField("payment_status", payment.Status).Warn("payment not captured")
		return VerifyResult{}, fmt.Errorf("%w: status %s", ErrPaymentNotCaptured, payment.Status)
	}

	orderReq := req.Order
	orderReq.PaymentMethod = ""
	orderReq.Payment = &VerifiedPayment{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		AmountPaise:      payment.Amount,
	}

	order, err := s.orders.Create(ctx, orderReq)
	if err == nil {
		log.WithField("order_number", order.OrderNumber).Info("paid order placed")
		return VerifyResult{Order: order}, nil
	}

	if errors.Is(err, ErrDuplicatePayment) || isUniqueViolation(err, gatewayPaymentConstraint) {
		existing, ok, lookupErr := s.existingOrder(ctx, req.GatewayPaymentID)
		if lookupErr != nil {
			return VerifyResult{}, lookupErr
		}
		if ok {
			return VerifyResult{Order: existing, Duplicate: true}, nil
		}
	}

	if !isOrderRuleError(err) {
		// Safe to retry: the payment has no order yet.
		log.WithError(err).Error("paid order not placed, needs reconciliation")
		return VerifyResult{}, err
	}

	// A concurrent callback may have placed the order and taken the stock
	// this one was refused. That payment is settled and must not be refunded.
	if existing, ok, lookupErr := s.existingOrder(ctx, req.GatewayPaymentID); lookupErr != nil {
		log.WithError(lookupErr).WithField("cause", err.Error()).Error("paid order not placed, needs reconciliation")
		return VerifyResult{}, err
	} else if ok {
		return VerifyResult{Order: existing, Duplicate: true}, nil
	}

	refund, refundErr := s.gw.Refund(ctx, req.GatewayPaymentID, 0, autoRefundReason)
	if refundErr != nil {
		log.WithError(refundErr).WithField("cause", err.Error()).Error("automatic refund failed, needs reconciliation")
		return VerifyResult{}, err
	}
	log.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"cause":     err.Error(),
	}).Warn("order rejected after capture, payment refunded")
	return VerifyResult{}, fmt.Errorf("%w: %w", ErrPaymentRefunded, err)
}

// RecordFailure logs a failed checkout reported by the client.
func (s *PaymentService) RecordFailure(ctx context.Context, gatewayOrderID, gatewayPaymentID, reason string) {
	s.log.WithFields(logrus.Fields{
		"gateway_order_id":   gatewayOrderID,
		"gateway_payment_id": gatewayPaymentID,
		"reason":             reason,
	}).Warn("payment failed")
}

// PaymentStatus returns the gateway's record of a payment.
func (s *PaymentService) PaymentStatus(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if paymentID == "" {
		return nil, ErrPaymentNotFound
	}
	p, err := s.gw.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, s.gatewayError(err, "fetch payment")
	}
	return p, nil
}

// Refund refunds amount rupees (the whole payment when zero) and records it
// on the order paid by paymentID.
func (s *PaymentService) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (RefundResult, error) {
	if paymentID == "" {
		return RefundResult{}, ErrPaymentNotFound
	}
	if amount.IsNegative() {
		return RefundResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		reason = defaultRefundReason
	}

	refund, err := s.gw.Refund(ctx, paymentID, pricing.ToMinorUnits(amount), reason)
	if err != nil {
		return RefundResult{}, s.gatewayError(err, "refund")
	}

	log := s.log.WithFields(logrus.Fields{
		"gateway_payment_id": paymentID,
		"refund_id":          refund.ID,
		"amount":             refund.Amount,
	})

	order, err := s.store.RecordRefund(ctx, database.RecordRefundParams{
		GatewayPaymentID: paymentID,
		Amount:           database.DecimalToNumeric(pricing.FromMinorUnits(refund.Amount)),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("refund issued for a payment without a local order")
			return RefundResult{Refund: refund}, nil
		}
		log.WithError(err).Error("refund issued but not recorded, needs reconciliation")
		return RefundResult{Refund: refund}, fmt.Errorf("record refund: %w", err)
	}

	log.WithField("order_number", order.OrderNumber).Info("refund recorded")
	return RefundResult{Refund: refund, Order: &order}, nil
}

// --- Helpers ---

func (s *PaymentService) existingOrder(ctx context.Context, paymentID string) (database.Order, bool, error) {
	o, err := s.store.GetOrderByGatewayPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, false, nil
		}
		return database.Order{}, false, fmt.Errorf("get order by payment: %w", err)
	}
	return o, true, nil
}

func (s *PaymentService) gatewayError(err error, op string) error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 400 || apiErr.StatusCode == 404) {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, apiErr.Description)
	}
	s.log.WithError(err).Errorf("gateway %s failed", op)
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// isSettled reports whether the gateway holds the customer's money.
func isSettled(p *gateway.Payment) bool {
	return p.Captured || p.Status == "captured" || p.Status == "authorized"
}

// isOrderRuleError reports whether order placement was rejected by a business
// rule rather than an infrastructure failure.
func isOrderRuleError(err error) bool {
	for _, target := range []error{
		ErrEmptyItems, ErrInvalidQuantity, ErrInvalidSize, ErrInvalidIngredient,
		ErrMissingIngredient, ErrIngredientNotFound, ErrIngredientInactive,
		ErrWrongCategory, ErrInsufficientStock, ErrAddressRequired,
		ErrCustomerRequired, ErrInvalidPayment, ErrAmountMismatch, ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
