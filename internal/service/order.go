package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/pricing"
	"github.com/shopspring/decimal"
)

// EstimatedDeliveryWindow is added to the placement time to get the ETA.
const EstimatedDeliveryWindow = 30 * time.Minute

const defaultItemName = "Custom Pizza"

// MaxQuantity is the most pizzas of one kind a single order may hold.
const MaxQuantity = 50

// Errors returned by the order service.
var (
	ErrEmptyItems         = errors.New("items are required")
	ErrInvalidQuantity    = fmt.Errorf("quantity must be between 1 and %d", MaxQuantity)
	ErrInvalidSize        = errors.New("size must be small, medium or large")
	ErrInvalidIngredient  = errors.New("invalid ingredient id")
	ErrMissingIngredient  = errors.New("base, sauce and cheese are required")
	ErrIngredientNotFound = errors.New("ingredient not found")
	ErrIngredientInactive = errors.New("ingredient is not available")
	ErrWrongCategory      = errors.New("ingredient is in the wrong category")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrAddressRequired    = errors.New("delivery address requires street, city, state and zip_code")
	ErrCustomerRequired   = errors.New("customer name, email and phone are required")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrPaymentRequired    = errors.New("online payments must be placed through payment verification")
	ErrAmountMismatch     = errors.New("paid amount does not match order total")
	ErrDuplicatePayment   = errors.New("payment already has an order")
	ErrUserNotFound       = errors.New("user not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrInvalidDate        = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotCancellable     = errors.New("order cannot be cancelled at this stage")
	ErrStatusConflict     = errors.New("order status changed, please retry")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is a connection pool: it runs queries directly and opens transactions.
// Satisfied by *pgxpool.Pool.
type Pool interface {
	TxBeginner
	database.DBTX
}

// OrderStore defines the DB methods the order service needs.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	GetCatalogItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]database.CatalogItem, error)
	DecrementStock(ctx context.Context, arg database.DecrementStockParams) (database.CatalogItem, error)
	NextOrderSequence(ctx context.Context, day pgtype.Date) (int32, error)
	LockGatewayPayment(ctx context.Context, paymentID string) error
	GetOrderByGatewayPaymentID(ctx context.Context, paymentID string) (database.Order, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderForUser(ctx context.Context, arg database.GetOrderForUserParams) (database.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (database.Order, error)
	ListOrdersByUser(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error)
	CountOrdersByUser(ctx context.Context, arg database.CountOrdersByUserParams) (int64, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	CountOrders(ctx context.Context, arg database.CountOrdersParams) (int64, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
	GetOrderStats(ctx context.Context, arg database.GetOrderStatsParams) (database.GetOrderStatsRow, error)
	CountOrdersByStatus(ctx context.Context) ([]database.CountOrdersByStatusRow, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// OrderEvents receives committed order changes. Implementations must not block.
type OrderEvents interface {
	OrderPlaced(ctx context.Context, order database.Order)
	OrderStatusChanged(ctx context.Context, order database.Order)
}

// StockTrigger asks the stock monitor for an out-of-schedule check.
type StockTrigger interface {
	Trigger()
}

// CreateOrderRequest is the input for placing an order.
type CreateOrderRequest struct {
	UserID        uuid.UUID
	Customer      CustomerInfo
	Address       database.Address
	Items         []CreateOrderItemRequest
	PaymentMethod string
	Notes         string

	// Payment is set only by payment verification, after the gateway
	// signature has been checked.
	Payment *VerifiedPayment
}

// CustomerInfo is the contact snapshot stored on the order. Empty fields are
// filled from the user's profile.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// CreateOrderItemRequest is one pizza in the order.
type CreateOrderItemRequest struct {
	Name         string
	BaseID       string
	SauceID      string
	CheeseID     string
	VegetableIDs []string
	MeatIDs      []string
	Size         string
	Quantity     int
}

// VerifiedPayment carries the gateway references of a captured payment.
type VerifiedPayment struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	// AmountPaise is what the gateway captured; zero skips the comparison.
	AmountPaise int64
}

// OrderOptions configures an OrderService. Zero values are usable.
type OrderOptions struct {
	Location *time.Location
	Events   OrderEvents
	Stock    StockTrigger
}

// OrderService handles order business logic.
type OrderService struct {
	pool     Pool
	newStore NewOrderStore
	loc      *time.Location
	events   OrderEvents
	stock    StockTrigger
	now      func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool Pool, newStore NewOrderStore, opts OrderOptions) *OrderService {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &OrderService{
		pool:     pool,
		newStore: newStore,
		loc:      loc,
		events:   opts.Events,
		stock:    opts.Stock,
		now:      time.Now,
	}
}

// slot is one ingredient reference inside an item, with its expected category.
type slot struct {
	id       uuid.UUID
	category string
}

// parsedItem is a request item with its ingredient ids parsed.
type parsedItem struct {
	req   CreateOrderItemRequest
	slots []slot
}

// Create validates, prices and stores an order, taking the ingredients out of
// stock in the same transaction.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (database.Order, error) {
	if len(req.Items) == 0 {
		return database.Order{}, ErrEmptyItems
	}
	if err := validateAddress(req.Address); err != nil {
		return database.Order{}, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = enum.PaymentMethodCOD
		if req.Payment != nil {
			method = enum.PaymentMethodRazorpay
		}
	}
	if !enum.IsPaymentMethod(method) {
		return database.Order{}, ErrInvalidPayment
	}
	if method == enum.PaymentMethodRazorpay && req.Payment == nil {
		return database.Order{}, ErrPaymentRequired
	}

	items := make([]parsedItem, 0, len(req.Items))
	for i, item := range req.Items {
		p, err := parseItem(item)
		if err != nil {
			return database.Order{}, fmt.Errorf("item[%d]: %w", i, err)
		}
		items = append(items, p)
	}

	order, err := s.createOrderTx(ctx, req, method, items)
	if err != nil {
		return database.Order{}, err
	}

	if s.events != nil {
		s.events.OrderPlaced(ctx, order)
	}
	if s.stock != nil {
		s.stock.Trigger()
	}
	return order, nil
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, method string, items []parsedItem) (database.Order, error) {
	// --- Begin transaction ---
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- One order per gateway payment ---
	// Concurrent callbacks for the same payment queue on the lock; the
	// later ones then see the committed order.
	if p := req.Payment; p != nil {
		if err := store.LockGatewayPayment(ctx, p.GatewayPaymentID); err != nil {
			return database.Order{}, fmt.Errorf("lock payment: %w", err)
		}
		if _, err := store.GetOrderByGatewayPaymentID(ctx, p.GatewayPaymentID); err == nil {
			return database.Order{}, ErrDuplicatePayment
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, fmt.Errorf("get order by payment: %w", err)
		}
	}

	// --- Customer snapshot ---
	customer, err := s.resolveCustomer(ctx, store, req.UserID, req.Customer)
	if err != nil {
		return database.Order{}, err
	}

	// --- Load ingredients ---
	catalog, err := loadIngredients(ctx, store, items)
	if err != nil {
		return database.Order{}, err
	}

	// --- Price items ---
	lines := make([]database.LineItem, 0, len(items))
	lineTotals := make([]decimal.Decimal, 0, len(items))
	required := make(map[uuid.UUID]int)

	for i, item := range items {
		line, err := buildLine(item, catalog)
		if err != nil {
			return database.Order{}, fmt.Errorf("item[%d]: %w", i, err)
		}
		lines = append(lines, line)
		lineTotals = append(lineTotals, line.TotalPrice)
		for _, sl := range item.slots {
			required[sl.id] += item.req.Quantity
		}
	}

	breakdown := pricing.Summarize(lineTotals, decimal.Zero)

	if req.Payment != nil && req.Payment.AmountPaise > 0 {
		if pricing.ToMinorUnits(breakdown.Total) != req.Payment.AmountPaise {
			return database.Order{}, fmt.Errorf("%w: expected %d paise, paid %d",
				ErrAmountMismatch, pricing.ToMinorUnits(breakdown.Total), req.Payment.AmountPaise)
		}
	}

	// --- Decrement stock, in id order ---
	ids := make([]uuid.UUID, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		if required[id] > math.MaxInt32 {
			return database.Order{}, fmt.Errorf("%w for %s", ErrInvalidQuantity, catalog[id].Name)
		}
		_, err := store.DecrementStock(ctx, database.DecrementStockParams{
			ID:       id,
			Quantity: int32(required[id]),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.Order{}, fmt.Errorf("%w for %s", ErrInsufficientStock, catalog[id].Name)
			}
			return database.Order{}, fmt.Errorf("decrement stock: %w", err)
		}
	}

	// --- Order number ---
	now := s.now()
	orderNumber, err := s.nextOrderNumber(ctx, store, now)
	if err != nil {
		return database.Order{}, err
	}

	// --- Insert order ---
	itemsJSON, err := json.Marshal(lines)
	if err != nil {
		return database.Order{}, fmt.Errorf("encode items: %w", err)
	}
	addressJSON, err := json.Marshal(req.Address)
	if err != nil {
		return database.Order{}, fmt.Errorf("encode address: %w", err)
	}

	params := database.CreateOrderParams{
		OrderNumber:         orderNumber,
		UserID:              req.UserID,
		CustomerName:        customer.Name,
		CustomerEmail:       customer.Email,
		CustomerPhone:       customer.Phone,
		DeliveryAddress:     addressJSON,
		Items:               itemsJSON,
		Subtotal:            database.DecimalToNumeric(breakdown.Subtotal),
		Tax:                 database.DecimalToNumeric(breakdown.Tax),
		DeliveryFee:         database.DecimalToNumeric(breakdown.DeliveryFee),
		Discount:            database.DecimalToNumeric(breakdown.Discount),
		Total:               database.DecimalToNumeric(breakdown.Total),
		PaymentMethod:       method,
		PaymentStatus:       enum.PaymentStatusPending,
		Status:              enum.OrderStatusPending,
		EstimatedDeliveryAt: pgtype.Timestamptz{Time: now.Add(EstimatedDeliveryWindow), Valid: true},
		Notes:               optionalText(req.Notes),
	}
	if p := req.Payment; p != nil {
		params.PaymentStatus = enum.PaymentStatusPaid
		params.Status = enum.OrderStatusConfirmed
		params.GatewayOrderID = optionalText(p.GatewayOrderID)
		params.GatewayPaymentID = optionalText(p.GatewayPaymentID)
		params.GatewaySignature = optionalText(p.Signature)
	}

	order, err := store.CreateOrder(ctx, params)
	if err != nil {
		return database.Order{}, fmt.Errorf("create order: %w", err)
	}

	// --- Commit ---
	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return order, nil
}

// nextOrderNumber formats PZ-YYYYMMDD-NNN from the day counter in the
// service's time zone.
func (s *OrderService) nextOrderNumber(ctx context.Context, store OrderStore, now time.Time) (string, error) {
	local := now.In(s.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	seq, err := store.NextOrderSequence(ctx, pgtype.Date{Time: day, Valid: true})
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return FormatOrderNumber(local, seq), nil
}

// FormatOrderNumber renders the public order number for the given local day.
func FormatOrderNumber(day time.Time, seq int32) string {
	return fmt.Sprintf("PZ-%s-%03d", day.Format("20060102"), seq)
}

func (s *OrderService) resolveCustomer(ctx context.Context, store OrderStore, userID uuid.UUID, in CustomerInfo) (CustomerInfo, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name != "" && in.Email != "" && in.Phone != "" {
		return in, nil
	}

	user, err := store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomerInfo{}, ErrUserNotFound
		}
		return CustomerInfo{}, fmt.Errorf("get user: %w", err)
	}
	if in.Name == "" {
		in.Name = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	if in.Email == "" {
		in.Email = user.Email
	}
	if in.Phone == "" && user.Phone.Valid {
		in.Phone = user.Phone.String
	}
	if in.Name == "" || in.Email == "" || in.Phone == "" {
		return CustomerInfo{}, ErrCustomerRequired
	}
	return in, nil
}

func loadIngredients(ctx context.Context, store OrderStore, items []parsedItem) (map[uuid.UUID]database.CatalogItem, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, item := range items {
		for _, sl := range item.slots {
			if !seen[sl.id] {
				seen[sl.id] = true
				ids = append(ids, sl.id)
			}
		}
	}

	rows, err := store.GetCatalogItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ingredients: %w", err)
	}
	catalog := make(map[uuid.UUID]database.CatalogItem, len(rows))
	for _, row := range rows {
		catalog[row.ID] = row
	}
	return catalog, nil
}

// buildLine checks every slot against the catalog and prices the item.
func buildLine(item parsedItem, catalog map[uuid.UUID]database.CatalogItem) (database.LineItem, error) {
	line := database.LineItem{
		ID:         uuid.New(),
		Name:       item.req.Name,
		Size:       item.req.Size,
		Quantity:   item.req.Quantity,
		Vegetables: []database.IngredientRef{},
		Meat:       []database.IngredientRef{},
	}
	if line.Name == "" {
		line.Name = defaultItemName
	}

	prices := make([]decimal.Decimal, 0, len(item.slots))
	for _, sl := range item.slots {
		ci, ok := catalog[sl.id]
		if !ok {
			return database.LineItem{}, fmt.Errorf("%w: %s", ErrIngredientNotFound, sl.id)
		}
		if !ci.IsActive {
			return database.LineItem{}, fmt.Errorf("%w: %s", ErrIngredientInactive, ci.Name)
		}
		if ci.Category != sl.category {
			return database.LineItem{}, fmt.Errorf("%w: %s is %s, not %s", ErrWrongCategory, ci.Name, ci.Category, sl.category)
		}

		ref := database.IngredientRef{ID: ci.ID, Name: ci.Name, Price: database.NumericToDecimal(ci.Price)}
		prices = append(prices, ref.Price)

		switch sl.category {
		case enum.CategoryBase:
			line.Base = ref
		case enum.CategorySauce:
			line.Sauce = ref
		case enum.CategoryCheese:
			line.Cheese = ref
		case enum.CategoryVegetables:
			line.Vegetables = append(line.Vegetables, ref)
		case enum.CategoryMeat:
			line.Meat = append(line.Meat, ref)
		}
	}

	unit, err := pricing.UnitPrice(prices, item.req.Size)
	if err != nil {
		return database.LineItem{}, mapPricingError(err)
	}
	total, err := pricing.LineTotal(unit, item.req.Quantity)
	if err != nil {
		return database.LineItem{}, mapPricingError(err)
	}
	line.UnitPrice = unit
	line.TotalPrice = total
	return line, nil
}

// --- Helpers ---

func parseItem(item CreateOrderItemRequest) (parsedItem, error) {
	if item.Quantity <= 0 || item.Quantity > MaxQuantity {
		return parsedItem{}, ErrInvalidQuantity
	}
	if _, err := pricing.SizeMultiplier(item.Size); err != nil {
		return parsedItem{}, ErrInvalidSize
	}
	if item.BaseID == "" || item.SauceID == "" || item.CheeseID == "" {
		return parsedItem{}, ErrMissingIngredient
	}

	p := parsedItem{req: item}
	add := func(raw, category string) error {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidIngredient, raw)
		}
		p.slots = append(p.slots, slot{id: id, category: category})
		return nil
	}

	if err := add(item.BaseID, enum.CategoryBase); err != nil {
		return parsedItem{}, err
	}
	if err := add(item.SauceID, enum.CategorySauce); err != nil {
		return parsedItem{}, err
	}
	if err := add(item.CheeseID, enum.CategoryCheese); err != nil {
		return parsedItem{}, err
	}
	for _, v := range item.VegetableIDs {
		if err := add(v, enum.CategoryVegetables); err != nil {
			return parsedItem{}, err
		}
	}
	for _, m := range item.MeatIDs {
		if err := add(m, enum.CategoryMeat); err != nil {
			return parsedItem{}, err
		}
	}
	return p, nil
}

func validateAddress(a database.Address) error {
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" ||
		strings.TrimSpace(a.State) == "" || strings.TrimSpace(a.ZipCode) == "" {
		return ErrAddressRequired
	}
	return nil
}

func mapPricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrInvalidSize):
		return ErrInvalidSize
	case errors.Is(err, pricing.ErrInvalidQuantity):
		return ErrInvalidQuantity
	}
	return err
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// isUniqueViolation checks for a pgconn unique constraint violation (23505)
// on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}
