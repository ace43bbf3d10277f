package database

import (
	"context"

	"github.com/google/uuid"
)

const getService = `-- name: GetService :one
SELECT id, name, price, duration_minutes, is_active, created_at FROM services
WHERE id = $1
`

func (q *Queries) GetService(ctx context.Context, id uuid.UUID) (Service, error) {
	row := q.db.QueryRow(ctx, getService, id)
	var i Service
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Price,
		&i.DurationMinutes,
		&i.IsActive,
		&i.CreatedAt,
	)
	return i, err
}

const getProduct = `-- name: GetProduct :one
SELECT id, name, price, commission_value, commission_percentage, is_active, created_at FROM products
WHERE id = $1
`

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, getProduct, id)
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Price,
		&i.CommissionValue,
		&i.CommissionPercentage,
		&i.IsActive,
		&i.CreatedAt,
	)
	return i, err
}

const getStaff = `-- name: GetStaff :one
SELECT id, name, commission_rate, is_active, created_at FROM staff
WHERE id = $1
`

func (q *Queries) GetStaff(ctx context.Context, id uuid.UUID) (Staff, error) {
	row := q.db.QueryRow(ctx, getStaff, id)
	var i Staff
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.CommissionRate,
		&i.IsActive,
		&i.CreatedAt,
	)
	return i, err
}
