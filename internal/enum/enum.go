package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending        = "pending"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusPreparing      = "preparing"
	OrderStatusReady          = "ready"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleCustomer = "customer"
	UserRoleAdmin    = "admin"
)

const (
	CategoryBase       = "base"
	CategorySauce      = "sauce"
	CategoryCheese     = "cheese"
	CategoryVegetables = "vegetables"
	CategoryMeat       = "meat"
)

const (
	PaymentMethodRazorpay = "razorpay"
	PaymentMethodCOD      = "cod"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Categories lists catalog categories in display order.
var Categories = []string{
	CategoryBase,
	CategorySauce,
	CategoryCheese,
	CategoryVegetables,
	CategoryMeat,
}

// OrderStatuses lists every order status in lifecycle order.
var OrderStatuses = []string{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func IsCategory(s string) bool {
	for _, c := range Categories {
		if c == s {
			return true
		}
	}
	return false
}

func IsOrderStatus(s string) bool {
	for _, st := range OrderStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func IsPaymentMethod(s string) bool {
	return s == PaymentMethodRazorpay || s == PaymentMethodCOD
}
