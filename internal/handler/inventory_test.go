package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/handler"
	"github.com/pizzacraft/api/internal/monitor"
	"github.com/shopspring/decimal"
)

// --- Mock store ---

type mockInventoryStore struct {
	items   map[uuid.UUID]database.CatalogItem
	listArg database.ListCatalogItemsParams
	created database.CreateCatalogItemParams
	updated database.UpdateCatalogItemParams
	err     error
}

func newMockInventoryStore(items ...database.CatalogItem) *mockInventoryStore {
	m := &mockInventoryStore{items: make(map[uuid.UUID]database.CatalogItem)}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockInventoryStore) ListCatalogItems(_ context.Context, arg database.ListCatalogItemsParams) ([]database.CatalogItem, error) {
	m.listArg = arg
	if m.err != nil {
		return nil, m.err
	}
	var out []database.CatalogItem
	for _, it := range m.items {
		if arg.Category.Valid && it.Category != arg.Category.String {
			continue
		}
		if arg.IsActive.Valid && it.IsActive != arg.IsActive.Bool {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *mockInventoryStore) ListAvailableCatalogItems(_ context.Context) ([]database.CatalogItem, error) {
	var out []database.CatalogItem
	for _, it := range m.items {
		if it.IsActive && it.Stock > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockInventoryStore) ListLowStockItems(_ context.Context) ([]database.CatalogItem, error) {
	var out []database.CatalogItem
	for _, it := range m.items {
		if it.IsActive && it.Stock <= it.Threshold {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockInventoryStore) CreateCatalogItem(_ context.Context, arg database.CreateCatalogItemParams) (database.CatalogItem, error) {
	m.created = arg
	if m.err != nil {
		return database.CatalogItem{}, m.err
	}
	it := database.CatalogItem{
		ID:          uuid.New(),
		Name:        arg.Name,
		Category:    arg.Category,
		Description: arg.Description,
		Price:       arg.Price,
		Stock:       arg.Stock,
		Threshold:   arg.Threshold,
		Unit:        arg.Unit,
		ImageUrl:    arg.ImageUrl,
		IsActive:    arg.IsActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.items[it.ID] = it
	return it, nil
}

func (m *mockInventoryStore) UpdateCatalogItem(_ context.Context, arg database.UpdateCatalogItemParams) (database.CatalogItem, error) {
	m.updated = arg
	it, ok := m.items[arg.ID]
	if !ok {
		return database.CatalogItem{}, pgx.ErrNoRows
	}
	if arg.Name.Valid {
		it.Name = arg.Name.String
	}
	if arg.Price.Valid {
		it.Price = arg.Price
	}
	if arg.Stock.Valid {
		it.Stock = arg.Stock.Int32
	}
	if arg.IsActive.Valid {
		it.IsActive = arg.IsActive.Bool
	}
	m.items[it.ID] = it
	return it, nil
}

func (m *mockInventoryStore) DeleteCatalogItem(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	if _, ok := m.items[id]; !ok {
		return uuid.Nil, pgx.ErrNoRows
	}
	delete(m.items, id)
	return id, nil
}

// --- Mock stock checker ---

type mockStockChecker struct {
	checks  int
	summary monitor.Summary
}

func (m *mockStockChecker) Check(context.Context) error {
	m.checks++
	return nil
}

func (m *mockStockChecker) Summary(context.Context) (monitor.Summary, error) {
	return m.summary, nil
}

// --- Helpers ---

func catalogItem(name, category string, price string, stock int32) database.CatalogItem {
	return database.CatalogItem{
		ID:        uuid.New(),
		Name:      name,
		Category:  category,
		Price:     database.DecimalToNumeric(decimal.RequireFromString(price)),
		Stock:     stock,
		Threshold: 10,
		Unit:      "pieces",
		IsActive:  true,
	}
}

func newInventoryRouter(store *mockInventoryStore, stock *mockStockChecker) http.Handler {
	h := handler.NewInventoryHandler(store, stock)
	r := chi.NewRouter()
	r.Route("/inventory", func(r chi.Router) {
		h.RegisterRoutes(r, passthrough)
	})
	return r
}

// --- Tests ---

func TestInventoryList_Filters(t *testing.T) {
	store := newMockInventoryStore(
		catalogItem("Thin Crust", enum.CategoryBase, "0", 50),
		catalogItem("Pepperoni", enum.CategoryMeat, "2", 100),
	)
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodGet, "/inventory?category=meat&active=true", nil, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if store.listArg.Category.String != "meat" || !store.listArg.IsActive.Bool {
		t.Errorf("filters not passed through: %+v", store.listArg)
	}
	items := responseData(t, decodeResponse(t, rr))["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("items: got %d, want 1", len(items))
	}
	item := items[0].(map[string]interface{})
	if item["price"] != "2.00" {
		t.Errorf("price: got %v, want 2.00", item["price"])
	}
	if item["isLowStock"] != false {
		t.Errorf("isLowStock: got %v, want false", item["isLowStock"])
	}
}

func TestInventoryList_InvalidFilters(t *testing.T) {
	r := newInventoryRouter(newMockInventoryStore(), &mockStockChecker{})

	assertMessage(t, doJSON(t, r, http.MethodGet, "/inventory?category=dessert", nil, ""), http.StatusBadRequest, "Invalid category")
	assertMessage(t, doJSON(t, r, http.MethodGet, "/inventory?active=maybe", nil, ""), http.StatusBadRequest, "active must be true or false")
}

func TestInventoryCategorized(t *testing.T) {
	soldOut := catalogItem("Jalapenos", enum.CategoryVegetables, "1", 0)
	inactive := catalogItem("Anchovies", enum.CategoryMeat, "2", 40)
	inactive.IsActive = false
	store := newMockInventoryStore(
		catalogItem("Thin Crust", enum.CategoryBase, "0", 50),
		catalogItem("Mushrooms", enum.CategoryVegetables, "1", 120),
		soldOut,
		inactive,
	)
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodGet, "/inventory/categorized", nil, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	data := responseData(t, decodeResponse(t, rr))
	for _, c := range enum.Categories {
		if _, ok := data[c]; !ok {
			t.Errorf("category %s missing", c)
		}
	}
	if veg := data["vegetables"].([]interface{}); len(veg) != 1 {
		t.Errorf("vegetables: got %d, want 1 (sold out hidden)", len(veg))
	}
	if meat := data["meat"].([]interface{}); len(meat) != 0 {
		t.Errorf("meat: got %d, want 0 (inactive hidden)", len(meat))
	}
}

func TestInventoryCreate_Defaults(t *testing.T) {
	store := newMockInventoryStore()
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodPost, "/inventory", map[string]interface{}{
		"name":     "Basil",
		"category": "vegetables",
		"price":    "1.5",
	}, "")

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if store.created.Threshold != 10 || store.created.Unit != "pieces" || !store.created.IsActive || store.created.Stock != 0 {
		t.Errorf("defaults not applied: %+v", store.created)
	}
	item := responseData(t, decodeResponse(t, rr))["item"].(map[string]interface{})
	if item["price"] != "1.50" {
		t.Errorf("price: got %v, want 1.50", item["price"])
	}
	if item["isLowStock"] != true {
		t.Errorf("isLowStock: got %v, want true for empty stock", item["isLowStock"])
	}
}

func TestInventoryCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]interface{}
		message string
	}{
		{"missing name", map[string]interface{}{"category": "meat", "price": 1}, "name is required"},
		{"bad category", map[string]interface{}{"name": "X", "category": "dessert", "price": 1}, "category must be one of base, sauce, cheese, vegetables, meat"},
		{"missing price", map[string]interface{}{"name": "X", "category": "meat"}, "price is required"},
		{"negative price", map[string]interface{}{"name": "X", "category": "meat", "price": -1}, "price must be >= 0"},
		{"negative stock", map[string]interface{}{"name": "X", "category": "meat", "price": 1, "stock": -3}, "stock must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newInventoryRouter(newMockInventoryStore(), &mockStockChecker{})
			assertMessage(t, doJSON(t, r, http.MethodPost, "/inventory", tt.body, ""), http.StatusBadRequest, tt.message)
		})
	}
}

func TestInventoryCreate_Duplicate(t *testing.T) {
	store := newMockInventoryStore()
	store.err = &pgconn.PgError{Code: "23505"}
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodPost, "/inventory", map[string]interface{}{
		"name": "Pepperoni", "category": "meat", "price": 2,
	}, "")

	assertMessage(t, rr, http.StatusConflict, "An item with this name already exists in this category")
}

func TestInventoryUpdate_Partial(t *testing.T) {
	item := catalogItem("Pepperoni", enum.CategoryMeat, "2", 100)
	store := newMockInventoryStore(item)
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodPut, "/inventory/"+item.ID.String(), map[string]interface{}{
		"stock": 5,
	}, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if store.updated.Name.Valid || store.updated.Price.Valid || store.updated.IsActive.Valid {
		t.Errorf("absent fields should stay unset: %+v", store.updated)
	}
	if store.updated.Stock != (pgtype.Int4{Int32: 5, Valid: true}) {
		t.Errorf("stock: got %+v, want 5", store.updated.Stock)
	}
	got := responseData(t, decodeResponse(t, rr))["item"].(map[string]interface{})
	if got["stock"] != float64(5) || got["isLowStock"] != true {
		t.Errorf("item: got stock %v lowStock %v", got["stock"], got["isLowStock"])
	}
}

func TestInventoryUpdate_NotFound(t *testing.T) {
	r := newInventoryRouter(newMockInventoryStore(), &mockStockChecker{})

	rr := doJSON(t, r, http.MethodPut, "/inventory/"+uuid.New().String(), map[string]interface{}{"stock": 5}, "")

	assertMessage(t, rr, http.StatusNotFound, "Inventory item not found")
}

func TestInventoryDelete(t *testing.T) {
	item := catalogItem("Pepperoni", enum.CategoryMeat, "2", 100)
	store := newMockInventoryStore(item)
	r := newInventoryRouter(store, &mockStockChecker{})

	assertMessage(t, doJSON(t, r, http.MethodDelete, "/inventory/"+item.ID.String(), nil, ""), http.StatusOK, "Inventory item deleted successfully")
	if _, ok := store.items[item.ID]; ok {
		t.Error("item still present")
	}
	assertMessage(t, doJSON(t, r, http.MethodDelete, "/inventory/"+item.ID.String(), nil, ""), http.StatusNotFound, "Inventory item not found")
	assertMessage(t, doJSON(t, r, http.MethodDelete, "/inventory/not-a-uuid", nil, ""), http.StatusBadRequest, "Invalid inventory item ID")
}

func TestInventoryLowStock(t *testing.T) {
	store := newMockInventoryStore(
		catalogItem("Pepperoni", enum.CategoryMeat, "2", 3),
		catalogItem("Mushrooms", enum.CategoryVegetables, "1", 120),
	)
	r := newInventoryRouter(store, &mockStockChecker{})

	rr := doJSON(t, r, http.MethodGet, "/inventory/low-stock", nil, "")

	items := responseData(t, decodeResponse(t, rr))["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["name"] != "Pepperoni" {
		t.Errorf("low stock: got %v, want only Pepperoni", items)
	}
}

func TestInventoryCheckStock(t *testing.T) {
	stock := &mockStockChecker{summary: monitor.Summary{TotalItems: 29, LowStockItems: 2}}
	r := newInventoryRouter(newMockInventoryStore(), stock)

	rr := doJSON(t, r, http.MethodPost, "/inventory/check-stock", nil, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if stock.checks != 1 {
		t.Errorf("checks: got %d, want 1", stock.checks)
	}
	data := responseData(t, decodeResponse(t, rr))
	if data["totalItems"] != float64(29) || data["lowStockItems"] != float64(2) {
		t.Errorf("summary: got %v", data)
	}
}

func TestInventoryList_StoreError(t *testing.T) {
	store := newMockInventoryStore()
	store.err = errors.New("connection reset")
	r := newInventoryRouter(store, &mockStockChecker{})

	assertMessage(t, doJSON(t, r, http.MethodGet, "/inventory", nil, ""), http.StatusInternalServerError, "Internal server error")
}

func TestInternalError_Detail(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		want   interface{}
	}{
		{"development", true, "list inventory: connection reset"},
		{"production", false, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler.ExposeErrors(tc.expose)
			t.Cleanup(func() { handler.ExposeErrors(false) })

			store := newMockInventoryStore()
			store.err = errors.New("connection reset")
			r := newInventoryRouter(store, &mockStockChecker{})

			rr := doJSON(t, r, http.MethodGet, "/inventory", nil, "")
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
			}
			resp := decodeResponse(t, rr)
			if resp["message"] != "Internal server error" {
				t.Errorf("message: got %v", resp["message"])
			}
			if resp["error"] != tc.want {
				t.Errorf("error: got %v, want %v", resp["error"], tc.want)
			}
		})
	}
}
