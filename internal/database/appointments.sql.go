package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const appointmentColumns = `id, client_id, staff_id, service_id, scheduled_date, scheduled_time, status, sale_id, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (Appointment, error) {
	var i Appointment
	err := row.Scan(
		&i.ID,
		&i.ClientID,
		&i.StaffID,
		&i.ServiceID,
		&i.ScheduledDate,
		&i.ScheduledTime,
		&i.Status,
		&i.SaleID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getAppointment = `-- name: GetAppointment :one
SELECT ` + appointmentColumns + ` FROM appointments
WHERE id = $1
`

func (q *Queries) GetAppointment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	return scanAppointment(q.db.QueryRow(ctx, getAppointment, id))
}

const getAppointmentForUpdate = `-- name: GetAppointmentForUpdate :one
SELECT ` + appointmentColumns + ` FROM appointments
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (Appointment, error) {
	return scanAppointment(q.db.QueryRow(ctx, getAppointmentForUpdate, id))
}

const linkAppointmentSale = `-- name: LinkAppointmentSale :one
UPDATE appointments SET sale_id = $2, updated_at = now()
WHERE id = $1
RETURNING ` + appointmentColumns

type LinkAppointmentSaleParams struct {
	ID     uuid.UUID   `json:"id"`
	SaleID pgtype.UUID `json:"sale_id"`
}

func (q *Queries) LinkAppointmentSale(ctx context.Context, arg LinkAppointmentSaleParams) (Appointment, error) {
	return scanAppointment(q.db.QueryRow(ctx, linkAppointmentSale, arg.ID, arg.SaleID))
}

const updateAppointmentStatus = `-- name: UpdateAppointmentStatus :one
UPDATE appointments SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + appointmentColumns

type UpdateAppointmentStatusParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (q *Queries) UpdateAppointmentStatus(ctx context.Context, arg UpdateAppointmentStatusParams) (Appointment, error) {
	return scanAppointment(q.db.QueryRow(ctx, updateAppointmentStatus, arg.ID, arg.Status))
}
