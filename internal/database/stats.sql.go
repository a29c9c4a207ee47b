package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const getOrderStats = `-- name: GetOrderStats :one
SELECT
    count(*) FILTER (WHERE created_at >= $1 AND created_at < $2) AS today_orders,
    COALESCE(sum(total) FILTER (WHERE created_at >= $1 AND created_at < $2 AND payment_status = 'paid'), 0)::numeric AS today_revenue,
    COALESCE(sum(total) FILTER (WHERE created_at >= $3 AND created_at < $4 AND payment_status = 'paid'), 0)::numeric AS monthly_revenue
FROM orders`

type GetOrderStatsParams struct {
	DayStart   time.Time `json:"day_start"`
	DayEnd     time.Time `json:"day_end"`
	MonthStart time.Time `json:"month_start"`
	MonthEnd   time.Time `json:"month_end"`
}

type GetOrderStatsRow struct {
	TodayOrders    int64          `json:"today_orders"`
	TodayRevenue   pgtype.Numeric `json:"today_revenue"`
	MonthlyRevenue pgtype.Numeric `json:"monthly_revenue"`
}

func (q *Queries) GetOrderStats(ctx context.Context, arg GetOrderStatsParams) (GetOrderStatsRow, error) {
	var i GetOrderStatsRow
	err := q.db.QueryRow(ctx, getOrderStats, arg.DayStart, arg.DayEnd, arg.MonthStart, arg.MonthEnd).
		Scan(&i.TodayOrders, &i.TodayRevenue, &i.MonthlyRevenue)
	return i, err
}

const countOrdersByStatus = `-- name: CountOrdersByStatus :many
SELECT status, count(*) FROM orders GROUP BY status ORDER BY status`

type CountOrdersByStatusRow struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func (q *Queries) CountOrdersByStatus(ctx context.Context) ([]CountOrdersByStatusRow, error) {
	rows, err := q.db.Query(ctx, countOrdersByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CountOrdersByStatusRow{}
	for rows.Next() {
		var i CountOrdersByStatusRow
		if err := rows.Scan(&i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
