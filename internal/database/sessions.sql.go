package database

import (
	"context"

	"github.com/google/uuid"
)

const completeTotemSession = `-- name: CompleteTotemSession :one
UPDATE totem_sessions SET status = 'completed', completed_at = COALESCE(completed_at, now())
WHERE id = $1
RETURNING id, appointment_id, status, created_at, completed_at
`

func (q *Queries) CompleteTotemSession(ctx context.Context, id uuid.UUID) (TotemSession, error) {
	row := q.db.QueryRow(ctx, completeTotemSession, id)
	var i TotemSession
	err := row.Scan(
		&i.ID,
		&i.AppointmentID,
		&i.Status,
		&i.CreatedAt,
		&i.CompletedAt,
	)
	return i, err
}
