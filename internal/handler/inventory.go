package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/monitor"
	"github.com/shopspring/decimal"
)

const (
	defaultThreshold = 10
	defaultUnit      = "pieces"
)

// InventoryStore defines the database methods needed by inventory handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type InventoryStore interface {
	ListCatalogItems(ctx context.Context, arg database.ListCatalogItemsParams) ([]database.CatalogItem, error)
	ListAvailableCatalogItems(ctx context.Context) ([]database.CatalogItem, error)
	ListLowStockItems(ctx context.Context) ([]database.CatalogItem, error)
	CreateCatalogItem(ctx context.Context, arg database.CreateCatalogItemParams) (database.CatalogItem, error)
	UpdateCatalogItem(ctx context.Context, arg database.UpdateCatalogItemParams) (database.CatalogItem, error)
	DeleteCatalogItem(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// StockChecker runs the low-stock sweep on demand.
// Satisfied by *monitor.StockMonitor.
type StockChecker interface {
	Check(ctx context.Context) error
	Summary(ctx context.Context) (monitor.Summary, error)
}

// InventoryHandler handles catalog endpoints.
type InventoryHandler struct {
	store InventoryStore
	stock StockChecker
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(store InventoryStore, stock StockChecker) *InventoryHandler {
	return &InventoryHandler{store: store, stock: stock}
}

// RegisterRoutes registers inventory endpoints. Reads are public; admin
// guards everything that changes or reports on stock.
func (h *InventoryHandler) RegisterRoutes(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Get("/", h.List)
	r.Get("/categorized", h.Categorized)

	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Get("/low-stock", h.LowStock)
		r.Get("/summary", h.Summary)
		r.Post("/check-stock", h.CheckStock)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// --- Request / Response types ---

type createItemRequest struct {
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int32           `json:"stock"`
	Threshold   *int32           `json:"threshold"`
	Unit        string           `json:"unit"`
	ImageURL    string           `json:"imageUrl"`
	IsActive    *bool            `json:"isActive"`
}

// updateItemRequest changes only the fields that are present.
type updateItemRequest struct {
	Name        *string          `json:"name"`
	Category    *string          `json:"category"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int32           `json:"stock"`
	Threshold   *int32           `json:"threshold"`
	Unit        *string          `json:"unit"`
	ImageURL    *string          `json:"imageUrl"`
	IsActive    *bool            `json:"isActive"`
}

type catalogItemResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Stock       int32     `json:"stock"`
	Threshold   int32     `json:"threshold"`
	Unit        string    `json:"unit"`
	ImageURL    *string   `json:"imageUrl"`
	IsActive    bool      `json:"isActive"`
	IsLowStock  bool      `json:"isLowStock"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// builderItem is the trimmed shape the pizza builder reads.
type builderItem struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Stock       int32     `json:"stock"`
	ImageURL    *string   `json:"imageUrl"`
}

func toCatalogItemResponse(c database.CatalogItem) catalogItemResponse {
	resp := catalogItemResponse{
		ID:          c.ID,
		Name:        c.Name,
		Category:    c.Category,
		Description: c.Description,
		Price:       database.NumericString(c.Price),
		Stock:       c.Stock,
		Threshold:   c.Threshold,
		Unit:        c.Unit,
		IsActive:    c.IsActive,
		IsLowStock:  c.Stock <= c.Threshold,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.ImageUrl.Valid {
		resp.ImageURL = &c.ImageUrl.String
	}
	return resp
}

func toCatalogItemList(items []database.CatalogItem) []catalogItemResponse {
	resp := make([]catalogItemResponse, len(items))
	for i, c := range items {
		resp[i] = toCatalogItemResponse(c)
	}
	return resp
}

// --- Handlers ---

// List returns catalog items, optionally filtered by ?category= and ?active=.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	var params database.ListCatalogItemsParams

	if category := r.URL.Query().Get("category"); category != "" {
		if !enum.IsCategory(category) {
			writeError(w, http.StatusBadRequest, "Invalid category")
			return
		}
		params.Category = pgtype.Text{String: category, Valid: true}
	}
	if active := r.URL.Query().Get("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		params.IsActive = pgtype.Bool{Bool: b, Valid: true}
	}

	items, err := h.store.ListCatalogItems(r.Context(), params)
	if err != nil {
		writeInternalError(w, "list inventory", err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]interface{}{"items": toCatalogItemList(items)})
}

// Categorized groups in-stock active items by category for the pizza builder.
func (h *InventoryHandler) Categorized(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListAvailableCatalogItems(r.Context())
	if err != nil {
		writeInternalError(w, "list categorized inventory", err)
		return
	}

	grouped := make(map[string][]builderItem, len(enum.Categories))
	for _, c := range enum.Categories {
		grouped[c] = []builderItem{}
	}
	for _, c := range items {
		item := builderItem{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Price:       database.NumericString(c.Price),
			Stock:       c.Stock,
		}
		if c.ImageUrl.Valid {
			item.ImageURL = &c.ImageUrl.String
		}
		grouped[c.Category] = append(grouped[c.Category], item)
	}

	writeData(w, http.StatusOK, "", grouped)
}

// LowStock returns active items at or below their threshold.
func (h *InventoryHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListLowStockItems(r.Context())
	if err != nil {
		writeInternalError(w, "list low stock", err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]interface{}{"items": toCatalogItemList(items)})
}

// Summary returns stock counts for the admin dashboard.
func (h *InventoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stock.Summary(r.Context())
	if err != nil {
		writeInternalError(w, "stock summary", err)
		return
	}
	writeData(w, http.StatusOK, "", summary)
}

// CheckStock runs the low-stock sweep now. The alert cooldown still applies.
func (h *InventoryHandler) CheckStock(w http.ResponseWriter, r *http.Request) {
	if err := h.stock.Check(r.Context()); err != nil {
		writeInternalError(w, "manual stock check", err)
		return
	}
	summary, err := h.stock.Summary(r.Context())
	if err != nil {
		writeInternalError(w, "stock summary", err)
		return
	}
	writeData(w, http.StatusOK, "Stock check completed", summary)
}

// Create adds a catalog item.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !enum.IsCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "category must be one of base, sauce, cheese, vegetables, meat")
		return
	}
	if req.Price == nil {
		writeError(w, http.StatusBadRequest, "price is required")
		return
	}
	if msg := validateAmounts(req.Price, req.Stock, req.Threshold); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	params := database.CreateCatalogItemParams{
		Name:        req.Name,
		Category:    req.Category,
		Description: strings.TrimSpace(req.Description),
		Price:       database.DecimalToNumeric(*req.Price),
		Threshold:   defaultThreshold,
		Unit:        defaultUnit,
		IsActive:    true,
	}
	if req.Stock != nil {
		params.Stock = *req.Stock
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if u := strings.TrimSpace(req.Unit); u != "" {
		params.Unit = u
	}
	if req.ImageURL != "" {
		params.ImageUrl = pgtype.Text{String: req.ImageURL, Valid: true}
	}
	if req.IsActive != nil {
		params.IsActive = *req.IsActive
	}

	item, err := h.store.CreateCatalogItem(r.Context(), params)
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "An item with this name already exists in this category")
			return
		}
		writeInternalError(w, "create inventory item", err)
		return
	}

	writeData(w, http.StatusCreated, "Inventory item created successfully",
		map[string]catalogItemResponse{"item": toCatalogItemResponse(item)})
}

// Update changes the fields present in the body.
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid inventory item ID")
		return
	}

	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := database.UpdateCatalogItemParams{ID: id}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		params.Name = pgtype.Text{String: name, Valid: true}
	}
	if req.Category != nil {
		if !enum.IsCategory(*req.Category) {
			writeError(w, http.StatusBadRequest, "category must be one of base, sauce, cheese, vegetables, meat")
			return
		}
		params.Category = pgtype.Text{String: *req.Category, Valid: true}
	}
	if msg := validateAmounts(req.Price, req.Stock, req.Threshold); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Description != nil {
		params.Description = pgtype.Text{String: strings.TrimSpace(*req.Description), Valid: true}
	}
	if req.Price != nil {
		params.Price = database.DecimalToNumeric(*req.Price)
	}
	if req.Stock != nil {
		params.Stock = pgtype.Int4{Int32: *req.Stock, Valid: true}
	}
	if req.Threshold != nil {
		params.Threshold = pgtype.Int4{Int32: *req.Threshold, Valid: true}
	}
	if req.Unit != nil && strings.TrimSpace(*req.Unit) != "" {
		params.Unit = pgtype.Text{String: strings.TrimSpace(*req.Unit), Valid: true}
	}
	if req.ImageURL != nil {
		params.ImageUrl = pgtype.Text{String: *req.ImageURL, Valid: true}
	}
	if req.IsActive != nil {
		params.IsActive = pgtype.Bool{Bool: *req.IsActive, Valid: true}
	}

	item, err := h.store.UpdateCatalogItem(r.Context(), params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Inventory item not found")
			return
		}
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "An item with this name already exists in this category")
			return
		}
		writeInternalError(w, "update inventory item", err)
		return
	}

	writeData(w, http.StatusOK, "Inventory item updated successfully",
		map[string]catalogItemResponse{"item": toCatalogItemResponse(item)})
}

// Delete removes a catalog item. Orders keep their own snapshot of it.
func (h *InventoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid inventory item ID")
		return
	}

	if _, err := h.store.DeleteCatalogItem(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Inventory item not found")
			return
		}
		writeInternalError(w, "delete inventory item", err)
		return
	}

	writeMessage(w, http.StatusOK, "Inventory item deleted successfully")
}

// --- Helpers ---

func validateAmounts(price *decimal.Decimal, stock, threshold *int32) string {
	if price != nil && price.IsNegative() {
		return "price must be >= 0"
	}
	if stock != nil && *stock < 0 {
		return "stock must be >= 0"
	}
	if threshold != nil && *threshold < 0 {
		return "threshold must be >= 0"
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
