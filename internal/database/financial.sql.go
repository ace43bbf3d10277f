package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const financialRecordColumns = `id, transaction_type, category, subcategory, description, gross_amount, net_amount, status, transaction_date, due_date, payment_date, staff_id, client_id, payment_method, reference_id, reference_type, notes, created_at`

func scanFinancialRecord(row interface{ Scan(...any) error }) (FinancialRecord, error) {
	var i FinancialRecord
	err := row.Scan(
		&i.ID,
		&i.TransactionType,
		&i.Category,
		&i.Subcategory,
		&i.Description,
		&i.GrossAmount,
		&i.NetAmount,
		&i.Status,
		&i.TransactionDate,
		&i.DueDate,
		&i.PaymentDate,
		&i.StaffID,
		&i.ClientID,
		&i.PaymentMethod,
		&i.ReferenceID,
		&i.ReferenceType,
		&i.Notes,
		&i.CreatedAt,
	)
	return i, err
}

const lockLedgerEntry = `-- name: LockLedgerEntry :exec
SELECT pg_advisory_xact_lock(hashtext($1))
`

// LockLedgerEntry holds a transaction-scoped advisory lock on key until the
// surrounding transaction ends.
func (q *Queries) LockLedgerEntry(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, lockLedgerEntry, key)
	return err
}

const findFinancialRecordByMarker = `-- name: FindFinancialRecordByMarker :one
SELECT ` + financialRecordColumns + ` FROM financial_records
WHERE reference_id = $1 AND reference_type = $2 AND strpos(notes, $3) > 0
ORDER BY created_at
LIMIT 1
`

type FindFinancialRecordByMarkerParams struct {
	ReferenceID   uuid.UUID `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Marker        string    `json:"marker"`
}

func (q *Queries) FindFinancialRecordByMarker(ctx context.Context, arg FindFinancialRecordByMarkerParams) (FinancialRecord, error) {
	return scanFinancialRecord(q.db.QueryRow(ctx, findFinancialRecordByMarker, arg.ReferenceID, arg.ReferenceType, arg.Marker))
}

const createFinancialRecord = `-- name: CreateFinancialRecord :one
INSERT INTO financial_records (
    transaction_type, category, subcategory, description, gross_amount, net_amount, status,
    transaction_date, due_date, payment_date, staff_id, client_id, payment_method,
    reference_id, reference_type, notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING ` + financialRecordColumns

type CreateFinancialRecordParams struct {
	TransactionType string             `json:"transaction_type"`
	Category        string             `json:"category"`
	Subcategory     string             `json:"subcategory"`
	Description     string             `json:"description"`
	GrossAmount     pgtype.Numeric     `json:"gross_amount"`
	NetAmount       pgtype.Numeric     `json:"net_amount"`
	Status          string             `json:"status"`
	TransactionDate pgtype.Date        `json:"transaction_date"`
	DueDate         pgtype.Date        `json:"due_date"`
	PaymentDate     pgtype.Timestamptz `json:"payment_date"`
	StaffID         pgtype.UUID        `json:"staff_id"`
	ClientID        pgtype.UUID        `json:"client_id"`
	PaymentMethod   pgtype.Text        `json:"payment_method"`
	ReferenceID     uuid.UUID          `json:"reference_id"`
	ReferenceType   string             `json:"reference_type"`
	Notes           string             `json:"notes"`
}

func (q *Queries) CreateFinancialRecord(ctx context.Context, arg CreateFinancialRecordParams) (FinancialRecord, error) {
	return scanFinancialRecord(q.db.QueryRow(ctx, createFinancialRecord,
		arg.TransactionType,
		arg.Category,
		arg.Subcategory,
		arg.Description,
		arg.GrossAmount,
		arg.NetAmount,
		arg.Status,
		arg.TransactionDate,
		arg.DueDate,
		arg.PaymentDate,
		arg.StaffID,
		arg.ClientID,
		arg.PaymentMethod,
		arg.ReferenceID,
		arg.ReferenceType,
		arg.Notes,
	))
}

const listFinancialRecordsByReference = `-- name: ListFinancialRecordsByReference :many
SELECT ` + financialRecordColumns + ` FROM financial_records
WHERE reference_id = $1 AND reference_type = $2
ORDER BY created_at
`

type ListFinancialRecordsByReferenceParams struct {
	ReferenceID   uuid.UUID `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
}

func (q *Queries) ListFinancialRecordsByReference(ctx context.Context, arg ListFinancialRecordsByReferenceParams) ([]FinancialRecord, error) {
	rows, err := q.db.Query(ctx, listFinancialRecordsByReference, arg.ReferenceID, arg.ReferenceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []FinancialRecord{}
	for rows.Next() {
		i, err := scanFinancialRecord(rows)
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

const findReceivableByObservation = `-- name: FindReceivableByObservation :one
SELECT id, description, client_id, amount, due_date, received_date, status, category, observations, created_at
FROM accounts_receivable
WHERE strpos(observations, $1) > 0
LIMIT 1
`

func (q *Queries) FindReceivableByObservation(ctx context.Context, marker string) (AccountsReceivable, error) {
	row := q.db.QueryRow(ctx, findReceivableByObservation, marker)
	var i AccountsReceivable
	err := row.Scan(
		&i.ID,
		&i.Description,
		&i.ClientID,
		&i.Amount,
		&i.DueDate,
		&i.ReceivedDate,
		&i.Status,
		&i.Category,
		&i.Observations,
		&i.CreatedAt,
	)
	return i, err
}

const createReceivable = `-- name: CreateReceivable :one
INSERT INTO accounts_receivable (description, client_id, amount, due_date, received_date, status, category, observations)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, description, client_id, amount, due_date, received_date, status, category, observations, created_at
`

type CreateReceivableParams struct {
	Description  string         `json:"description"`
	ClientID     pgtype.UUID    `json:"client_id"`
	Amount       pgtype.Numeric `json:"amount"`
	DueDate      pgtype.Date    `json:"due_date"`
	ReceivedDate pgtype.Date    `json:"received_date"`
	Status       string         `json:"status"`
	Category     string         `json:"category"`
	Observations string         `json:"observations"`
}

func (q *Queries) CreateReceivable(ctx context.Context, arg CreateReceivableParams) (AccountsReceivable, error) {
	row := q.db.QueryRow(ctx, createReceivable,
		arg.Description,
		arg.ClientID,
		arg.Amount,
		arg.DueDate,
		arg.ReceivedDate,
		arg.Status,
		arg.Category,
		arg.Observations,
	)
	var i AccountsReceivable
	err := row.Scan(
		&i.ID,
		&i.Description,
		&i.ClientID,
		&i.Amount,
		&i.DueDate,
		&i.ReceivedDate,
		&i.Status,
		&i.Category,
		&i.Observations,
		&i.CreatedAt,
	)
	return i, err
}

const findPayableByObservation = `-- name: FindPayableByObservation :one
SELECT id, description, staff_id, amount, due_date, payment_date, status, category, observations, created_at
FROM accounts_payable
WHERE strpos(observations, $1) > 0
LIMIT 1
`

func (q *Queries) FindPayableByObservation(ctx context.Context, marker string) (AccountsPayable, error) {
	row := q.db.QueryRow(ctx, findPayableByObservation, marker)
	var i AccountsPayable
	err := row.Scan(
		&i.ID,
		&i.Description,
		&i.StaffID,
		&i.Amount,
		&i.DueDate,
		&i.PaymentDate,
		&i.Status,
		&i.Category,
		&i.Observations,
		&i.CreatedAt,
	)
	return i, err
}

const createPayable = `-- name: CreatePayable :one
INSERT INTO accounts_payable (description, staff_id, amount, due_date, status, category, observations)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, description, staff_id, amount, due_date, payment_date, status, category, observations, created_at
`

type CreatePayableParams struct {
	Description  string         `json:"description"`
	StaffID      pgtype.UUID    `json:"staff_id"`
	Amount       pgtype.Numeric `json:"amount"`
	DueDate      pgtype.Date    `json:"due_date"`
	Status       string         `json:"status"`
	Category     string         `json:"category"`
	Observations string         `json:"observations"`
}

func (q *Queries) CreatePayable(ctx context.Context, arg CreatePayableParams) (AccountsPayable, error) {
	row := q.db.QueryRow(ctx, createPayable,
		arg.Description,
		arg.StaffID,
		arg.Amount,
		arg.DueDate,
		arg.Status,
		arg.Category,
		arg.Observations,
	)
	var i AccountsPayable
	err := row.Scan(
		&i.ID,
		&i.Description,
		&i.StaffID,
		&i.Amount,
		&i.DueDate,
		&i.PaymentDate,
		&i.Status,
		&i.Category,
		&i.Observations,
		&i.CreatedAt,
	)
	return i, err
}
