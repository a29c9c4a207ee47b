package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, user_id, customer_name, customer_email, customer_phone,
	delivery_address, items, subtotal, tax, delivery_fee, discount, total,
	payment_method, payment_status, gateway_order_id, gateway_payment_id,
	gateway_signature, refunded_amount, status, estimated_delivery_at,
	actual_delivery_at, notes, admin_notes, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.UserID,
		&i.CustomerName,
		&i.CustomerEmail,
		&i.CustomerPhone,
		&i.DeliveryAddress,
		&i.Items,
		&i.Subtotal,
		&i.Tax,
		&i.DeliveryFee,
		&i.Discount,
		&i.Total,
		&i.PaymentMethod,
		&i.PaymentStatus,
		&i.GatewayOrderID,
		&i.GatewayPaymentID,
		&i.GatewaySignature,
		&i.RefundedAmount,
		&i.Status,
		&i.EstimatedDeliveryAt,
		&i.ActualDeliveryAt,
		&i.Notes,
		&i.AdminNotes,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectOrders(rows pgx.Rows, err error) ([]Order, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

const nextOrderSequence = `-- name: NextOrderSequence :one
INSERT INTO order_sequences (day, last_value)
VALUES ($1, 1)
ON CONFLICT (day) DO UPDATE SET last_value = order_sequences.last_value + 1
RETURNING last_value`

// NextOrderSequence advances and returns the per-day order counter.
// The row lock taken by the upsert serializes concurrent callers on the same day.
func (q *Queries) NextOrderSequence(ctx context.Context, day pgtype.Date) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, nextOrderSequence, day).Scan(&n)
	return n, err
}

const lockGatewayPayment = `-- name: LockGatewayPayment :exec
SELECT pg_advisory_xact_lock(hashtext($1))`

// LockGatewayPayment takes a transaction-scoped advisory lock on a gateway
// payment id. It is released on commit or rollback.
func (q *Queries) LockGatewayPayment(ctx context.Context, paymentID string) error {
	_, err := q.db.Exec(ctx, lockGatewayPayment, paymentID)
	return err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    order_number, user_id, customer_name, customer_email, customer_phone,
    delivery_address, items, subtotal, tax, delivery_fee, discount, total,
    payment_method, payment_status, gateway_order_id, gateway_payment_id,
    gateway_signature, status, estimated_delivery_at, notes
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderNumber         string             `json:"order_number"`
	UserID              uuid.UUID          `json:"user_id"`
	CustomerName        string             `json:"customer_name"`
	CustomerEmail       string             `json:"customer_email"`
	CustomerPhone       string             `json:"customer_phone"`
	DeliveryAddress     []byte             `json:"delivery_address"`
	Items               []byte             `json:"items"`
	Subtotal            pgtype.Numeric     `json:"subtotal"`
	Tax                 pgtype.Numeric     `json:"tax"`
	DeliveryFee         pgtype.Numeric     `json:"delivery_fee"`
	Discount            pgtype.Numeric     `json:"discount"`
	Total               pgtype.Numeric     `json:"total"`
	PaymentMethod       string             `json:"payment_method"`
	PaymentStatus       string             `json:"payment_status"`
	GatewayOrderID      pgtype.Text        `json:"gateway_order_id"`
	GatewayPaymentID    pgtype.Text        `json:"gateway_payment_id"`
	GatewaySignature    pgtype.Text        `json:"gateway_signature"`
	Status              string             `json:"status"`
	EstimatedDeliveryAt pgtype.Timestamptz `json:"estimated_delivery_at"`
	Notes               pgtype.Text        `json:"notes"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.UserID,
		arg.CustomerName,
		arg.CustomerEmail,
		arg.CustomerPhone,
		arg.DeliveryAddress,
		arg.Items,
		arg.Subtotal,
		arg.Tax,
		arg.DeliveryFee,
		arg.Discount,
		arg.Total,
		arg.PaymentMethod,
		arg.PaymentStatus,
		arg.GatewayOrderID,
		arg.GatewayPaymentID,
		arg.GatewaySignature,
		arg.Status,
		arg.EstimatedDeliveryAt,
		arg.Notes,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUser = `-- name: GetOrderForUser :one
SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

type GetOrderForUserParams struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
}

func (q *Queries) GetOrderForUser(ctx context.Context, arg GetOrderForUserParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUser, arg.ID, arg.UserID))
}

const getOrderByNumber = `-- name: GetOrderByNumber :one
SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByNumber, orderNumber))
}

const getOrderByGatewayPaymentID = `-- name: GetOrderByGatewayPaymentID :one
SELECT ` + orderColumns + ` FROM orders WHERE gateway_payment_id = $1`

func (q *Queries) GetOrderByGatewayPaymentID(ctx context.Context, paymentID string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByGatewayPaymentID, paymentID))
}

const listOrdersByUser = `-- name: ListOrdersByUser :many
SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

type ListOrdersByUserParams struct {
	UserID uuid.UUID   `json:"user_id"`
	Status pgtype.Text `json:"status"`
	Limit  int32       `json:"limit"`
	Offset int32       `json:"offset"`
}

func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	return collectOrders(q.db.Query(ctx, listOrdersByUser, arg.UserID, arg.Status, arg.Limit, arg.Offset))
}

const countOrdersByUser = `-- name: CountOrdersByUser :one
SELECT count(*) FROM orders
WHERE user_id = $1
  AND ($2::text IS NULL OR status = $2)`

type CountOrdersByUserParams struct {
	UserID uuid.UUID   `json:"user_id"`
	Status pgtype.Text `json:"status"`
}

func (q *Queries) CountOrdersByUser(ctx context.Context, arg CountOrdersByUserParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOrdersByUser, arg.UserID, arg.Status).Scan(&n)
	return n, err
}

const orderFilter = `
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
  AND ($4::text IS NULL
       OR order_number ILIKE '%' || $4 || '%'
       OR customer_name ILIKE '%' || $4 || '%'
       OR customer_phone ILIKE '%' || $4 || '%')`

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `
FROM orders` + orderFilter + `
ORDER BY created_at DESC
LIMIT $5 OFFSET $6`

// ListOrdersParams filters the admin order list. Zero-valued (invalid) fields are ignored.
type ListOrdersParams struct {
	Status    pgtype.Text        `json:"status"`
	StartDate pgtype.Timestamptz `json:"start_date"`
	EndDate   pgtype.Timestamptz `json:"end_date"`
	Search    pgtype.Text        `json:"search"`
	Limit     int32              `json:"limit"`
	Offset    int32              `json:"offset"`
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	return collectOrders(q.db.Query(ctx, listOrders,
		arg.Status,
		arg.StartDate,
		arg.EndDate,
		arg.Search,
		arg.Limit,
		arg.Offset,
	))
}

const countOrders = `-- name: CountOrders :one
SELECT count(*) FROM orders` + orderFilter

type CountOrdersParams struct {
	Status    pgtype.Text        `json:"status"`
	StartDate pgtype.Timestamptz `json:"start_date"`
	EndDate   pgtype.Timestamptz `json:"end_date"`
	Search    pgtype.Text        `json:"search"`
}

func (q *Queries) CountOrders(ctx context.Context, arg CountOrdersParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOrders, arg.Status, arg.StartDate, arg.EndDate, arg.Search).Scan(&n)
	return n, err
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status = $2,
    admin_notes = COALESCE($4, admin_notes),
    actual_delivery_at = COALESCE($5, actual_delivery_at),
    updated_at = now()
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

// UpdateOrderStatusParams moves an order from PrevStatus to Status.
// pgx.ErrNoRows means the order no longer has PrevStatus.
type UpdateOrderStatusParams struct {
	ID               uuid.UUID          `json:"id"`
	Status           string             `json:"status"`
	PrevStatus       string             `json:"prev_status"`
	AdminNotes       pgtype.Text        `json:"admin_notes"`
	ActualDeliveryAt pgtype.Timestamptz `json:"actual_delivery_at"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus,
		arg.ID,
		arg.Status,
		arg.PrevStatus,
		arg.AdminNotes,
		arg.ActualDeliveryAt,
	)
	return scanOrder(row)
}

const cancelOrder = `-- name: CancelOrder :one
UPDATE orders
SET status = 'cancelled', admin_notes = $3, updated_at = now()
WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'confirmed')
RETURNING ` + orderColumns

type CancelOrderParams struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	AdminNotes string    `json:"admin_notes"`
}

// CancelOrder cancels an owned order that has not started preparation.
// pgx.ErrNoRows means the order is missing, not owned, or past confirmation.
func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, cancelOrder, arg.ID, arg.UserID, arg.AdminNotes))
}

const recordRefund = `-- name: RecordRefund :one
UPDATE orders
SET refunded_amount = LEAST(total, refunded_amount + $2),
    payment_status = CASE WHEN refunded_amount + $2 >= total THEN 'refunded' ELSE payment_status END,
    updated_at = now()
WHERE gateway_payment_id = $1
RETURNING ` + orderColumns

type RecordRefundParams struct {
	GatewayPaymentID string         `json:"gateway_payment_id"`
	Amount           pgtype.Numeric `json:"amount"`
}

// RecordRefund adds a refunded amount to the order paid by GatewayPaymentID.
// The payment status becomes refunded once the order total is covered.
func (q *Queries) RecordRefund(ctx context.Context, arg RecordRefundParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, recordRefund, arg.GatewayPaymentID, arg.Amount))
}
