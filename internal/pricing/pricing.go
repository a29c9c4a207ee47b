// Package pricing computes pizza and order prices. All arithmetic uses
// decimal values; amounts are rounded to two places only when an order
// breakdown is produced.
package pricing

import (
	"errors"

	"github.com/pizzacraft/api/internal/enum"
	"github.com/shopspring/decimal"
)

const Currency = "INR"

var (
	BasePizzaPrice        = decimal.NewFromInt(899)
	TaxRate               = decimal.NewFromFloat(0.08)
	FreeDeliveryThreshold = decimal.NewFromInt(1999)
	DeliveryFee           = decimal.NewFromInt(199)
)

var sizeMultipliers = map[string]decimal.Decimal{
	enum.SizeSmall:  decimal.NewFromFloat(0.8),
	enum.SizeMedium: decimal.NewFromInt(1),
	enum.SizeLarge:  decimal.NewFromFloat(1.3),
}

var (
	ErrInvalidSize     = errors.New("invalid size")
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrNegativePrice   = errors.New("ingredient price must be >= 0")
)

// Breakdown is the priced summary of an order.
type Breakdown struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// SizeMultiplier returns the multiplier for a pizza size.
func SizeMultiplier(size string) (decimal.Decimal, error) {
	m, ok := sizeMultipliers[size]
	if !ok {
		return decimal.Zero, ErrInvalidSize
	}
	return m, nil
}

// UnitPrice returns the price of one pizza: (base price + ingredient prices) x size multiplier.
func UnitPrice(ingredientPrices []decimal.Decimal, size string) (decimal.Decimal, error) {
	m, err := SizeMultiplier(size)
	if err != nil {
		return decimal.Zero, err
	}
	sum := BasePizzaPrice
	for _, p := range ingredientPrices {
		if p.IsNegative() {
			return decimal.Zero, ErrNegativePrice
		}
		sum = sum.Add(p)
	}
	return sum.Mul(m), nil
}

// LineTotal returns unit x quantity.
func LineTotal(unit decimal.Decimal, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, ErrInvalidQuantity
	}
	return unit.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// Fee returns the delivery fee for a subtotal. Delivery is free strictly above the threshold.
func Fee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return DeliveryFee
}

// Summarize rounds the subtotal and tax once, then derives the total from the
// rounded parts so that total == subtotal + tax + fee - discount exactly.
func Summarize(lineTotals []decimal.Decimal, discount decimal.Decimal) Breakdown {
	subtotal := decimal.Zero
	for _, lt := range lineTotals {
		subtotal = subtotal.Add(lt)
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(TaxRate).Round(2)
	fee := Fee(subtotal)
	discount = discount.Round(2)

	return Breakdown{
		Subtotal:    subtotal,
		Tax:         tax,
		DeliveryFee: fee,
		Discount:    discount,
		Total:       subtotal.Add(tax).Add(fee).Sub(discount),
	}
}

// ToMinorUnits converts a rupee amount to paise, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts paise to rupees.
func FromMinorUnits(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}
