package models

import (
	"time"

	"github.com/uptrace/bun"
)

const TicketStatusActive = "active"

// Ticket is one admission unit. A row is created per purchased unit when its
// order settles; the code/payload pair never changes afterwards.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID      string    `bun:"ticket_id,pk" json:"ticket_id"`
	EventID       string    `bun:"event_id" json:"event_id"`
	EventDayID    string    `bun:"event_day_id" json:"event_day_id"`
	ValidForDate  time.Time `bun:"valid_for_date" json:"valid_for_date"`
	OrderID       string    `bun:"order_id" json:"order_id"`
	OrderItemID   string    `bun:"order_item_id" json:"order_item_id"`
	AttendeeID    string    `bun:"attendee_id,nullzero" json:"attendee_id,omitempty"`
	AttendeeName  string    `bun:"attendee_name" json:"attendee_name"`
	AttendeeEmail string    `bun:"attendee_email" json:"attendee_email"`
	TicketTypeID  string    `bun:"ticket_type_id" json:"ticket_type_id"`
	TicketCode    string    `bun:"ticket_code" json:"ticket_code"`
	QRPayload     string    `bun:"qr_payload" json:"qr_payload"`
	Status        string    `bun:"status" json:"status"`
	IssuedAt      time.Time `bun:"issued_at" json:"issued_at"`
}

// TicketTypeAvailability is the read-only inventory view the settlement
// workflow re-checks before minting. Capacity 0 means unlimited.
type TicketTypeAvailability struct {
	bun.BaseModel `bun:"table:ticket_type_availability"`

	TicketTypeID string `bun:"ticket_type_id,pk" json:"ticket_type_id"`
	Capacity     int    `bun:"capacity" json:"capacity"`
	Remaining    int    `bun:"remaining" json:"remaining"`
	IsOnSale     bool   `bun:"is_on_sale" json:"is_on_sale"`
}
