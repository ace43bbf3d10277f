// Package events carries checkout notifications to dashboards and other
// subscribers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeSaleCompleted = "sale.completed"

	RoomSales = "sales"
)

// StaffRoom is the room a single staff member's dashboard joins.
func StaffRoom(staffID uuid.UUID) string { return "staff:" + staffID.String() }

// Event is a typed notification. Rooms routes it on the websocket hub and is
// not part of the payload.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
	Rooms      []string  `json:"-"`
}

// SaleCompleted is published once a sale is paid and its books are written.
type SaleCompleted struct {
	SaleID        uuid.UUID       `json:"saleId"`
	AppointmentID uuid.UUID       `json:"appointmentId"`
	StaffID       *uuid.UUID      `json:"staffId,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Tip           decimal.Decimal `json:"tip"`
}

// NewSaleCompleted builds the event for every dashboard and, when known, the
// attending staff member's room.
func NewSaleCompleted(sc SaleCompleted, at time.Time) Event {
	rooms := []string{RoomSales}
	if sc.StaffID != nil {
		rooms = append(rooms, StaffRoom(*sc.StaffID))
	}
	return Event{Type: TypeSaleCompleted, OccurredAt: at, Data: sc, Rooms: rooms}
}

// Publisher delivers events. Implementations must not block on slow
// subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(ctx context.Context, e Event) error { return nil }
