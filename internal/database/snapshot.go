package database

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is the JSONB shape of orders.delivery_address.
type Address struct {
	Street      string       `json:"street"`
	City        string       `json:"city"`
	State       string       `json:"state"`
	ZipCode     string       `json:"zip_code"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IngredientRef is an ingredient as it was priced when the order was placed.
type IngredientRef struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// LineItem is one element of the orders.items JSONB array. It is written once
// at placement and never re-priced.
type LineItem struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Base       IngredientRef   `json:"base"`
	Sauce      IngredientRef   `json:"sauce"`
	Cheese     IngredientRef   `json:"cheese"`
	Vegetables []IngredientRef `json:"vegetables"`
	Meat       []IngredientRef `json:"meat"`
	Size       string          `json:"size"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// LineItems decodes the order's item snapshot.
func (o Order) LineItems() ([]LineItem, error) {
	var items []LineItem
	if len(o.Items) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(o.Items, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Address decodes the order's delivery address.
func (o Order) Address() (Address, error) {
	var a Address
	if len(o.DeliveryAddress) == 0 {
		return a, nil
	}
	err := json.Unmarshal(o.DeliveryAddress, &a)
	return a, err
}
