package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const saleColumns = `id, appointment_id, session_id, client_id, staff_id, status, subtotal, discount, tip_amount, total, payment_method, nsu, authorization_code, card_brand, paid_at, created_at, updated_at`

func scanSale(row interface{ Scan(...any) error }) (Sale, error) {
	var i Sale
	err := row.Scan(
		&i.ID,
		&i.AppointmentID,
		&i.SessionID,
		&i.ClientID,
		&i.StaffID,
		&i.Status,
		&i.Subtotal,
		&i.Discount,
		&i.TipAmount,
		&i.Total,
		&i.PaymentMethod,
		&i.Nsu,
		&i.AuthorizationCode,
		&i.CardBrand,
		&i.PaidAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSale = `-- name: GetSale :one
SELECT ` + saleColumns + ` FROM sales
WHERE id = $1
`

func (q *Queries) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, getSale, id))
}

const getSaleForUpdate = `-- name: GetSaleForUpdate :one
SELECT ` + saleColumns + ` FROM sales
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, getSaleForUpdate, id))
}

const findSaleByAppointmentSession = `-- name: FindSaleByAppointmentSession :one
SELECT ` + saleColumns + ` FROM sales
WHERE appointment_id = $1 AND session_id IS NOT DISTINCT FROM $2
ORDER BY created_at DESC
LIMIT 1
`

type FindSaleByAppointmentSessionParams struct {
	AppointmentID pgtype.UUID `json:"appointment_id"`
	SessionID     pgtype.UUID `json:"session_id"`
}

func (q *Queries) FindSaleByAppointmentSession(ctx context.Context, arg FindSaleByAppointmentSessionParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, findSaleByAppointmentSession, arg.AppointmentID, arg.SessionID))
}

const createSale = `-- name: CreateSale :one
INSERT INTO sales (appointment_id, session_id, client_id, staff_id, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + saleColumns

type CreateSaleParams struct {
	AppointmentID pgtype.UUID `json:"appointment_id"`
	SessionID     pgtype.UUID `json:"session_id"`
	ClientID      pgtype.UUID `json:"client_id"`
	StaffID       pgtype.UUID `json:"staff_id"`
	Status        string      `json:"status"`
}

func (q *Queries) CreateSale(ctx context.Context, arg CreateSaleParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, createSale,
		arg.AppointmentID,
		arg.SessionID,
		arg.ClientID,
		arg.StaffID,
		arg.Status,
	))
}

const updateSaleTotals = `-- name: UpdateSaleTotals :one
UPDATE sales SET subtotal = $2, total = $3, updated_at = now()
WHERE id = $1 AND status <> 'paid'
RETURNING ` + saleColumns

type UpdateSaleTotalsParams struct {
	ID       uuid.UUID      `json:"id"`
	Subtotal pgtype.Numeric `json:"subtotal"`
	Total    pgtype.Numeric `json:"total"`
}

func (q *Queries) UpdateSaleTotals(ctx context.Context, arg UpdateSaleTotalsParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, updateSaleTotals, arg.ID, arg.Subtotal, arg.Total))
}

const markSalePaid = `-- name: MarkSalePaid :one
UPDATE sales SET
    status = 'paid',
    tip_amount = $2,
    total = $3,
    payment_method = $4,
    nsu = $5,
    authorization_code = $6,
    card_brand = $7,
    paid_at = now(),
    updated_at = now()
WHERE id = $1 AND status <> 'paid'
RETURNING ` + saleColumns

type MarkSalePaidParams struct {
	ID                uuid.UUID      `json:"id"`
	TipAmount         pgtype.Numeric `json:"tip_amount"`
	Total             pgtype.Numeric `json:"total"`
	PaymentMethod     pgtype.Text    `json:"payment_method"`
	Nsu               pgtype.Text    `json:"nsu"`
	AuthorizationCode pgtype.Text    `json:"authorization_code"`
	CardBrand         pgtype.Text    `json:"card_brand"`
}

func (q *Queries) MarkSalePaid(ctx context.Context, arg MarkSalePaidParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, markSalePaid,
		arg.ID,
		arg.TipAmount,
		arg.Total,
		arg.PaymentMethod,
		arg.Nsu,
		arg.AuthorizationCode,
		arg.CardBrand,
	))
}

const relinkSaleAppointment = `-- name: RelinkSaleAppointment :one
UPDATE sales SET appointment_id = $2, updated_at = now()
WHERE id = $1
RETURNING ` + saleColumns

type RelinkSaleAppointmentParams struct {
	ID            uuid.UUID   `json:"id"`
	AppointmentID pgtype.UUID `json:"appointment_id"`
}

func (q *Queries) RelinkSaleAppointment(ctx context.Context, arg RelinkSaleAppointmentParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, relinkSaleAppointment, arg.ID, arg.AppointmentID))
}
