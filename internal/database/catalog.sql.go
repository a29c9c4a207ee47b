package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const catalogColumns = `id, name, category, description, price, stock, threshold, unit,
	image_url, is_active, created_at, updated_at`

func scanCatalogItem(row interface{ Scan(...any) error }) (CatalogItem, error) {
	var i CatalogItem
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Category,
		&i.Description,
		&i.Price,
		&i.Stock,
		&i.Threshold,
		&i.Unit,
		&i.ImageUrl,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectCatalogItems(rows pgx.Rows, err error) ([]CatalogItem, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CatalogItem{}
	for rows.Next() {
		i, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listCatalogItems = `-- name: ListCatalogItems :many
SELECT ` + catalogColumns + `
FROM catalog_items
WHERE ($1::text IS NULL OR category = $1)
  AND ($2::bool IS NULL OR is_active = $2)
ORDER BY category, name`

type ListCatalogItemsParams struct {
	Category pgtype.Text `json:"category"`
	IsActive pgtype.Bool `json:"is_active"`
}

func (q *Queries) ListCatalogItems(ctx context.Context, arg ListCatalogItemsParams) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, listCatalogItems, arg.Category, arg.IsActive))
}

const listAvailableCatalogItems = `-- name: ListAvailableCatalogItems :many
SELECT ` + catalogColumns + `
FROM catalog_items
WHERE is_active AND stock > 0
ORDER BY category, name`

func (q *Queries) ListAvailableCatalogItems(ctx context.Context) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, listAvailableCatalogItems))
}

const listLowStockItems = `-- name: ListLowStockItems :many
SELECT ` + catalogColumns + `
FROM catalog_items
WHERE is_active AND stock <= threshold
ORDER BY category, name`

// ListLowStockItems returns active items at or below their own threshold.
func (q *Queries) ListLowStockItems(ctx context.Context) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, listLowStockItems))
}

const listItemsAtOrBelow = `-- name: ListItemsAtOrBelow :many
SELECT ` + catalogColumns + `
FROM catalog_items
WHERE is_active AND stock <= $1
ORDER BY stock, name`

// ListItemsAtOrBelow returns active items whose stock is at or below a fixed level.
func (q *Queries) ListItemsAtOrBelow(ctx context.Context, level int32) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, listItemsAtOrBelow, level))
}

const listActiveCatalogItems = `-- name: ListActiveCatalogItems :many
SELECT ` + catalogColumns + `
FROM catalog_items
WHERE is_active
ORDER BY category, name`

func (q *Queries) ListActiveCatalogItems(ctx context.Context) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, listActiveCatalogItems))
}

const getCatalogItem = `-- name: GetCatalogItem :one
SELECT ` + catalogColumns + ` FROM catalog_items WHERE id = $1`

func (q *Queries) GetCatalogItem(ctx context.Context, id uuid.UUID) (CatalogItem, error) {
	return scanCatalogItem(q.db.QueryRow(ctx, getCatalogItem, id))
}

const getCatalogItemsByIDs = `-- name: GetCatalogItemsByIDs :many
SELECT ` + catalogColumns + ` FROM catalog_items WHERE id = ANY($1::uuid[])`

func (q *Queries) GetCatalogItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]CatalogItem, error) {
	return collectCatalogItems(q.db.Query(ctx, getCatalogItemsByIDs, ids))
}

const createCatalogItem = `-- name: CreateCatalogItem :one
INSERT INTO catalog_items (name, category, description, price, stock, threshold, unit, image_url, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + catalogColumns

type CreateCatalogItemParams struct {
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Price       pgtype.Numeric `json:"price"`
	Stock       int32          `json:"stock"`
	Threshold   int32          `json:"threshold"`
	Unit        string         `json:"unit"`
	ImageUrl    pgtype.Text    `json:"image_url"`
	IsActive    bool           `json:"is_active"`
}

func (q *Queries) CreateCatalogItem(ctx context.Context, arg CreateCatalogItemParams) (CatalogItem, error) {
	row := q.db.QueryRow(ctx, createCatalogItem,
		arg.Name,
		arg.Category,
		arg.Description,
		arg.Price,
		arg.Stock,
		arg.Threshold,
		arg.Unit,
		arg.ImageUrl,
		arg.IsActive,
	)
	return scanCatalogItem(row)
}

const updateCatalogItem = `-- name: UpdateCatalogItem :one
UPDATE catalog_items
SET name        = COALESCE($2, name),
    category    = COALESCE($3, category),
    description = COALESCE($4, description),
    price       = COALESCE($5, price),
    stock       = COALESCE($6, stock),
    threshold   = COALESCE($7, threshold),
    unit        = COALESCE($8, unit),
    image_url   = COALESCE($9, image_url),
    is_active   = COALESCE($10, is_active),
    updated_at  = now()
WHERE id = $1
RETURNING ` + catalogColumns

// UpdateCatalogItemParams leaves a column untouched when its field is not Valid.
type UpdateCatalogItemParams struct {
	ID          uuid.UUID      `json:"id"`
	Name        pgtype.Text    `json:"name"`
	Category    pgtype.Text    `json:"category"`
	Description pgtype.Text    `json:"description"`
	Price       pgtype.Numeric `json:"price"`
	Stock       pgtype.Int4    `json:"stock"`
	Threshold   pgtype.Int4    `json:"threshold"`
	Unit        pgtype.Text    `json:"unit"`
	ImageUrl    pgtype.Text    `json:"image_url"`
	IsActive    pgtype.Bool    `json:"is_active"`
}

func (q *Queries) UpdateCatalogItem(ctx context.Context, arg UpdateCatalogItemParams) (CatalogItem, error) {
	row := q.db.QueryRow(ctx, updateCatalogItem,
		arg.ID,
		arg.Name,
		arg.Category,
		arg.Description,
		arg.Price,
		arg.Stock,
		arg.Threshold,
		arg.Unit,
		arg.ImageUrl,
		arg.IsActive,
	)
	return scanCatalogItem(row)
}

const deleteCatalogItem = `-- name: DeleteCatalogItem :one
DELETE FROM catalog_items WHERE id = $1 RETURNING id`

func (q *Queries) DeleteCatalogItem(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var deleted uuid.UUID
	err := q.db.QueryRow(ctx, deleteCatalogItem, id).Scan(&deleted)
	return deleted, err
}

const decrementStock = `-- name: DecrementStock :one
UPDATE catalog_items
SET stock = stock - $2, updated_at = now()
WHERE id = $1 AND is_active AND stock >= $2
RETURNING ` + catalogColumns

type DecrementStockParams struct {
	ID       uuid.UUID `json:"id"`
	Quantity int32     `json:"quantity"`
}

// DecrementStock takes quantity units from an item only when enough remain.
// pgx.ErrNoRows means the item is missing, inactive, or short on stock.
func (q *Queries) DecrementStock(ctx context.Context, arg DecrementStockParams) (CatalogItem, error) {
	return scanCatalogItem(q.db.QueryRow(ctx, decrementStock, arg.ID, arg.Quantity))
}
