package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID                     uuid.UUID          `json:"id"`
	FirstName              string             `json:"first_name"`
	LastName               string             `json:"last_name"`
	Email                  string             `json:"email"`
	Phone                  pgtype.Text        `json:"phone"`
	HashedPassword         string             `json:"hashed_password"`
	Role                   string             `json:"role"`
	IsEmailVerified        bool               `json:"is_email_verified"`
	EmailVerificationToken pgtype.Text        `json:"email_verification_token"`
	PasswordResetToken     pgtype.Text        `json:"password_reset_token"`
	PasswordResetExpiresAt pgtype.Timestamptz `json:"password_reset_expires_at"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

type CatalogItem struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Price       pgtype.Numeric `json:"price"`
	Stock       int32          `json:"stock"`
	Threshold   int32          `json:"threshold"`
	Unit        string         `json:"unit"`
	ImageUrl    pgtype.Text    `json:"image_url"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Order keeps the delivery address and the line items as JSONB snapshots.
type Order struct {
	ID                  uuid.UUID          `json:"id"`
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
	RefundedAmount      pgtype.Numeric     `json:"refunded_amount"`
	Status              string             `json:"status"`
	EstimatedDeliveryAt pgtype.Timestamptz `json:"estimated_delivery_at"`
	ActualDeliveryAt    pgtype.Timestamptz `json:"actual_delivery_at"`
	Notes               pgtype.Text        `json:"notes"`
	AdminNotes          pgtype.Text        `json:"admin_notes"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}
