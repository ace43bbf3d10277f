package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const saleItemColumns = `id, sale_id, kind, item_id, name, quantity, unit_price, discount, subtotal, staff_id, created_at, updated_at`

func scanSaleItem(row interface{ Scan(...any) error }) (SaleItem, error) {
	var i SaleItem
	err := row.Scan(
		&i.ID,
		&i.SaleID,
		&i.Kind,
		&i.ItemID,
		&i.Name,
		&i.Quantity,
		&i.UnitPrice,
		&i.Discount,
		&i.Subtotal,
		&i.StaffID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listSaleItems = `-- name: ListSaleItems :many
SELECT ` + saleItemColumns + ` FROM sale_items
WHERE sale_id = $1
ORDER BY created_at, kind
`

func (q *Queries) ListSaleItems(ctx context.Context, saleID uuid.UUID) ([]SaleItem, error) {
	rows, err := q.db.Query(ctx, listSaleItems, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SaleItem{}
	for rows.Next() {
		i, err := scanSaleItem(rows)
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

const upsertSaleItem = `-- name: UpsertSaleItem :one
INSERT INTO sale_items (sale_id, kind, item_id, name, quantity, unit_price, discount, subtotal, staff_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (sale_id, kind, item_id) DO UPDATE SET
    name = EXCLUDED.name,
    quantity = EXCLUDED.quantity,
    unit_price = EXCLUDED.unit_price,
    discount = EXCLUDED.discount,
    subtotal = EXCLUDED.subtotal,
    staff_id = EXCLUDED.staff_id,
    updated_at = now()
RETURNING ` + saleItemColumns

type UpsertSaleItemParams struct {
	SaleID    uuid.UUID      `json:"sale_id"`
	Kind      string         `json:"kind"`
	ItemID    uuid.UUID      `json:"item_id"`
	Name      string         `json:"name"`
	Quantity  int32          `json:"quantity"`
	UnitPrice pgtype.Numeric `json:"unit_price"`
	Discount  pgtype.Numeric `json:"discount"`
	Subtotal  pgtype.Numeric `json:"subtotal"`
	StaffID   pgtype.UUID    `json:"staff_id"`
}

func (q *Queries) UpsertSaleItem(ctx context.Context, arg UpsertSaleItemParams) (SaleItem, error) {
	return scanSaleItem(q.db.QueryRow(ctx, upsertSaleItem,
		arg.SaleID,
		arg.Kind,
		arg.ItemID,
		arg.Name,
		arg.Quantity,
		arg.UnitPrice,
		arg.Discount,
		arg.Subtotal,
		arg.StaffID,
	))
}

const deleteSaleItem = `-- name: DeleteSaleItem :exec
DELETE FROM sale_items
WHERE id = $1 AND sale_id = $2 AND kind <> 'principal_service'
`

type DeleteSaleItemParams struct {
	ID     uuid.UUID `json:"id"`
	SaleID uuid.UUID `json:"sale_id"`
}

func (q *Queries) DeleteSaleItem(ctx context.Context, arg DeleteSaleItemParams) error {
	_, err := q.db.Exec(ctx, deleteSaleItem, arg.ID, arg.SaleID)
	return err
}
