package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const staffCommissionColumns = `id, staff_id, sale_id, appointment_id, commission_type, amount, commission_rate, status, reference_key, created_at`

func scanStaffCommission(row interface{ Scan(...any) error }) (StaffCommission, error) {
	var i StaffCommission
	err := row.Scan(
		&i.ID,
		&i.StaffID,
		&i.SaleID,
		&i.AppointmentID,
		&i.CommissionType,
		&i.Amount,
		&i.CommissionRate,
		&i.Status,
		&i.ReferenceKey,
		&i.CreatedAt,
	)
	return i, err
}

const findStaffCommissionByKey = `-- name: FindStaffCommissionByKey :one
SELECT ` + staffCommissionColumns + ` FROM staff_commissions
WHERE reference_key = $1
`

func (q *Queries) FindStaffCommissionByKey(ctx context.Context, referenceKey string) (StaffCommission, error) {
	return scanStaffCommission(q.db.QueryRow(ctx, findStaffCommissionByKey, referenceKey))
}

const createStaffCommission = `-- name: CreateStaffCommission :one
INSERT INTO staff_commissions (staff_id, sale_id, appointment_id, commission_type, amount, commission_rate, status, reference_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + staffCommissionColumns

type CreateStaffCommissionParams struct {
	StaffID        uuid.UUID      `json:"staff_id"`
	SaleID         uuid.UUID      `json:"sale_id"`
	AppointmentID  pgtype.UUID    `json:"appointment_id"`
	CommissionType string         `json:"commission_type"`
	Amount         pgtype.Numeric `json:"amount"`
	CommissionRate pgtype.Numeric `json:"commission_rate"`
	Status         string         `json:"status"`
	ReferenceKey   string         `json:"reference_key"`
}

func (q *Queries) CreateStaffCommission(ctx context.Context, arg CreateStaffCommissionParams) (StaffCommission, error) {
	return scanStaffCommission(q.db.QueryRow(ctx, createStaffCommission,
		arg.StaffID,
		arg.SaleID,
		arg.AppointmentID,
		arg.CommissionType,
		arg.Amount,
		arg.CommissionRate,
		arg.Status,
		arg.ReferenceKey,
	))
}
