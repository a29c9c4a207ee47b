package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:        {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed:      {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing:      {enum.OrderStatusReady},
	enum.OrderStatusReady:          {enum.OrderStatusOutForDelivery},
	enum.OrderStatusOutForDelivery: {enum.OrderStatusDelivered},
}

var statusProgress = map[string]int{
	enum.OrderStatusPending:        10,
	enum.OrderStatusConfirmed:      25,
	enum.OrderStatusPreparing:      50,
	enum.OrderStatusReady:          75,
	enum.OrderStatusOutForDelivery: 90,
	enum.OrderStatusDelivered:      100,
	enum.OrderStatusCancelled:      0,
}

// CanTransition reports whether an order may move from current to next.
func CanTransition(current, next string) bool {
	for _, s := range allowedTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Progress returns the tracking percentage for a status.
func Progress(status string) int {
	return statusProgress[status]
}

// OrderPage is one page of an order listing.
type OrderPage struct {
	Orders []database.Order
	Total  int64
	Page   int
	Limit  int
}

// TotalPages rounds up.
func (p OrderPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Limit) - 1) / int64(p.Limit))
}

// AdminOrderFilter narrows the admin order list. Zero fields are ignored.
type AdminOrderFilter struct {
	Status string
	// Date (YYYY-MM-DD) selects one calendar day in the service's time zone.
	Date   string
	Search string
	Page   int
	Limit  int
}

// Tracking is the public view of an order.
type Tracking struct {
	OrderNumber         string
	Status              string
	Progress            int
	EstimatedDeliveryAt *time.Time
	ActualDeliveryAt    *time.Time
	CreatedAt           time.Time
	Items               []TrackingItem
	CustomerName        string
}

type TrackingItem struct {
	Name     string
	Quantity int
	Size     string
}

// OrderStats summarizes orders for the admin dashboard.
type OrderStats struct {
	TodayOrders     int64
	TodayRevenue    decimal.Decimal
	MonthlyRevenue  decimal.Decimal
	StatusBreakdown map[string]int64
}

// Get returns an order owned by userID.
func (s *OrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (database.Order, error) {
	order, err := s.newStore(s.pool).GetOrderForUser(ctx, database.GetOrderForUserParams{
		ID:     orderID,
		UserID: userID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListForUser returns a user's orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID, status string, page, limit int) (OrderPage, error) {
	if status != "" && !enum.IsOrderStatus(status) {
		return OrderPage{}, ErrInvalidStatus
	}
	page, limit = normalizePage(page, limit)
	store := s.newStore(s.pool)

	orders, err := store.ListOrdersByUser(ctx, database.ListOrdersByUserParams{
		UserID: userID,
		Status: optionalText(status),
		Limit:  int32(limit),
		Offset: int32((page - 1) * limit),
	})
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	total, err := store.CountOrdersByUser(ctx, database.CountOrdersByUserParams{
		UserID: userID,
		Status: optionalText(status),
	})
	if err != nil {
		return OrderPage{}, fmt.Errorf("count orders: %w", err)
	}
	return OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

// ListAll returns every order matching f, newest first.
func (s *OrderService) ListAll(ctx context.Context, f AdminOrderFilter) (OrderPage, error) {
	if f.Status != "" && !enum.IsOrderStatus(f.Status) {
		return OrderPage{}, ErrInvalidStatus
	}
	page, limit := normalizePage(f.Page, f.Limit)

	var start, end pgtype.Timestamptz
	if f.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", f.Date, s.loc)
		if err != nil {
			return OrderPage{}, ErrInvalidDate
		}
		from, to := s.dayBounds(day)
		start = pgtype.Timestamptz{Time: from, Valid: true}
		end = pgtype.Timestamptz{Time: to, Valid: true}
	}
	search := optionalText(strings.TrimSpace(f.Search))
	store := s.newStore(s.pool)

	orders, err := store.ListOrders(ctx, database.ListOrdersParams{
		Status:    optionalText(f.Status),
		StartDate: start,
		EndDate:   end,
		Search:    search,
		Limit:     int32(limit),
		Offset:    int32((page - 1) * limit),
	})
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	total, err := store.CountOrders(ctx, database.CountOrdersParams{
		Status:    optionalText(f.Status),
		StartDate: start,
		EndDate:   end,
		Search:    search,
	})
	if err != nil {
		return OrderPage{}, fmt.Errorf("count orders: %w", err)
	}
	return OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

// Cancel cancels an order on behalf of its owner while it is still pending or
// confirmed. Stock taken by the order is not returned.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (database.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason provided"
	}
	store := s.newStore(s.pool)

	// The query enforces owner and status atomically.
	cancelled, err := store.CancelOrder(ctx, database.CancelOrderParams{
		ID:         orderID,
		UserID:     userID,
		AdminNotes: "Cancelled by customer. Reason: " + reason,
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, fmt.Errorf("cancel order: %w", err)
		}
		// Fetch to tell missing from not cancellable.
		if _, fetchErr := store.GetOrderForUser(ctx, database.GetOrderForUserParams{ID: orderID, UserID: userID}); fetchErr != nil {
			if errors.Is(fetchErr, pgx.ErrNoRows) {
				return database.Order{}, ErrOrderNotFound
			}
			return database.Order{}, fmt.Errorf("get order for cancel: %w", fetchErr)
		}
		return database.Order{}, ErrNotCancellable
	}

	if s.events != nil {
		s.events.OrderStatusChanged(ctx, cancelled)
	}
	return cancelled, nil
}

// UpdateStatus moves an order along the fulfilment pipeline.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, next, adminNotes string) (database.Order, error) {
	if !enum.IsOrderStatus(next) {
		return database.Order{}, ErrInvalidStatus
	}
	store := s.newStore(s.pool)

	current, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}

	if !CanTransition(current.Status, next) {
		return database.Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
	}

	params := database.UpdateOrderStatusParams{
		ID:         orderID,
		Status:     next,
		PrevStatus: current.Status,
		AdminNotes: optionalText(strings.TrimSpace(adminNotes)),
	}
	if next == enum.OrderStatusDelivered {
		params.ActualDeliveryAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	}

	updated, err := store.UpdateOrderStatus(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Status changed between read and update.
			return database.Order{}, ErrStatusConflict
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}

	if s.events != nil {
		s.events.OrderStatusChanged(ctx, updated)
	}
	return updated, nil
}

// Track returns the public tracking view for an order number.
func (s *OrderService) Track(ctx context.Context, orderNumber string) (Tracking, error) {
	order, err := s.newStore(s.pool).GetOrderByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tracking{}, ErrOrderNotFound
		}
		return Tracking{}, fmt.Errorf("get order by number: %w", err)
	}

	lines, err := order.LineItems()
	if err != nil {
		return Tracking{}, fmt.Errorf("decode items: %w", err)
	}

	t := Tracking{
		OrderNumber:         order.OrderNumber,
		Status:              order.Status,
		Progress:            Progress(order.Status),
		EstimatedDeliveryAt: timePtr(order.EstimatedDeliveryAt),
		ActualDeliveryAt:    timePtr(order.ActualDeliveryAt),
		CreatedAt:           order.CreatedAt,
		Items:               make([]TrackingItem, 0, len(lines)),
		CustomerName:        order.CustomerName,
	}
	for _, l := range lines {
		t.Items = append(t.Items, TrackingItem{Name: l.Name, Quantity: l.Quantity, Size: l.Size})
	}
	return t, nil
}

// Stats computes today's and this month's figures in the service's time zone.
func (s *OrderService) Stats(ctx context.Context) (OrderStats, error) {
	now := s.now().In(s.loc)
	dayStart, dayEnd := s.dayBounds(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	monthEnd := monthStart.AddDate(0, 1, 0)

	store := s.newStore(s.pool)
	row, err := store.GetOrderStats(ctx, database.GetOrderStatsParams{
		DayStart:   dayStart,
		DayEnd:     dayEnd,
		MonthStart: monthStart,
		MonthEnd:   monthEnd,
	})
	if err != nil {
		return OrderStats{}, fmt.Errorf("get order stats: %w", err)
	}
	counts, err := store.CountOrdersByStatus(ctx)
	if err != nil {
		return OrderStats{}, fmt.Errorf("count orders by status: %w", err)
	}

	stats := OrderStats{
		TodayOrders:     row.TodayOrders,
		TodayRevenue:    database.NumericToDecimal(row.TodayRevenue),
		MonthlyRevenue:  database.NumericToDecimal(row.MonthlyRevenue),
		StatusBreakdown: make(map[string]int64, len(counts)),
	}
	for _, c := range counts {
		stats.StatusBreakdown[c.Status] = c.Count
	}
	return stats, nil
}

// dayBounds returns [start, end) of t's calendar day in the service's zone.
func (s *OrderService) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
