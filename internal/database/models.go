package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Client struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Email     pgtype.Text `json:"email"`
	CreatedAt time.Time   `json:"created_at"`
}

type Staff struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	CommissionRate pgtype.Numeric `json:"commission_rate"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Service struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Price           pgtype.Numeric `json:"price"`
	DurationMinutes int32          `json:"duration_minutes"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
}

type Product struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	Price                pgtype.Numeric `json:"price"`
	CommissionValue      pgtype.Numeric `json:"commission_value"`
	CommissionPercentage pgtype.Numeric `json:"commission_percentage"`
	IsActive             bool           `json:"is_active"`
	CreatedAt            time.Time      `json:"created_at"`
}

type Appointment struct {
	ID            uuid.UUID   `json:"id"`
	ClientID      pgtype.UUID `json:"client_id"`
	StaffID       pgtype.UUID `json:"staff_id"`
	ServiceID     uuid.UUID   `json:"service_id"`
	ScheduledDate pgtype.Date `json:"scheduled_date"`
	ScheduledTime pgtype.Text `json:"scheduled_time"`
	Status        string      `json:"status"`
	SaleID        pgtype.UUID `json:"sale_id"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type TotemSession struct {
	ID            uuid.UUID          `json:"id"`
	AppointmentID pgtype.UUID        `json:"appointment_id"`
	Status        string             `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	CompletedAt   pgtype.Timestamptz `json:"completed_at"`
}

type Sale struct {
	ID                uuid.UUID          `json:"id"`
	AppointmentID     pgtype.UUID        `json:"appointment_id"`
	SessionID         pgtype.UUID        `json:"session_id"`
	ClientID          pgtype.UUID        `json:"client_id"`
	StaffID           pgtype.UUID        `json:"staff_id"`
	Status            string             `json:"status"`
	Subtotal          pgtype.Numeric     `json:"subtotal"`
	Discount          pgtype.Numeric     `json:"discount"`
	TipAmount         pgtype.Numeric     `json:"tip_amount"`
	Total             pgtype.Numeric     `json:"total"`
	PaymentMethod     pgtype.Text        `json:"payment_method"`
	Nsu               pgtype.Text        `json:"nsu"`
	AuthorizationCode pgtype.Text        `json:"authorization_code"`
	CardBrand         pgtype.Text        `json:"card_brand"`
	PaidAt            pgtype.Timestamptz `json:"paid_at"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type SaleItem struct {
	ID        uuid.UUID      `json:"id"`
	SaleID    uuid.UUID      `json:"sale_id"`
	Kind      string         `json:"kind"`
	ItemID    uuid.UUID      `json:"item_id"`
	Name      string         `json:"name"`
	Quantity  int32          `json:"quantity"`
	UnitPrice pgtype.Numeric `json:"unit_price"`
	Discount  pgtype.Numeric `json:"discount"`
	Subtotal  pgtype.Numeric `json:"subtotal"`
	StaffID   pgtype.UUID    `json:"staff_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type FinancialRecord struct {
	ID              uuid.UUID          `json:"id"`
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
	CreatedAt       time.Time          `json:"created_at"`
}

type AccountsReceivable struct {
	ID           uuid.UUID      `json:"id"`
	Description  string         `json:"description"`
	ClientID     pgtype.UUID    `json:"client_id"`
	Amount       pgtype.Numeric `json:"amount"`
	DueDate      pgtype.Date    `json:"due_date"`
	ReceivedDate pgtype.Date    `json:"received_date"`
	Status       string         `json:"status"`
	Category     string         `json:"category"`
	Observations string         `json:"observations"`
	CreatedAt    time.Time      `json:"created_at"`
}

type AccountsPayable struct {
	ID           uuid.UUID      `json:"id"`
	Description  string         `json:"description"`
	StaffID      pgtype.UUID    `json:"staff_id"`
	Amount       pgtype.Numeric `json:"amount"`
	DueDate      pgtype.Date    `json:"due_date"`
	PaymentDate  pgtype.Date    `json:"payment_date"`
	Status       string         `json:"status"`
	Category     string         `json:"category"`
	Observations string         `json:"observations"`
	CreatedAt    time.Time      `json:"created_at"`
}

type StaffCommission struct {
	ID             uuid.UUID      `json:"id"`
	StaffID        uuid.UUID      `json:"staff_id"`
	SaleID         uuid.UUID      `json:"sale_id"`
	AppointmentID  pgtype.UUID    `json:"appointment_id"`
	CommissionType string         `json:"commission_type"`
	Amount         pgtype.Numeric `json:"amount"`
	CommissionRate pgtype.Numeric `json:"commission_rate"`
	Status         string         `json:"status"`
	ReferenceKey   string         `json:"reference_key"`
	CreatedAt      time.Time      `json:"created_at"`
}
