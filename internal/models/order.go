package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order statuses. An order is created as pending at checkout time and is moved
// to exactly one terminal status by the settlement workflow.
const (
	OrderStatusPending     = "pending"
	OrderStatusPaid        = "paid"
	OrderStatusSalesClosed = "sales_closed"
	OrderStatusOverbooked  = "overbooked"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID           string    `bun:"order_id,pk" json:"order_id"`
	EventID           string    `bun:"event_id" json:"event_id"`
	EventDayID        string    `bun:"event_day_id" json:"event_day_id"`
	BuyerID           string    `bun:"buyer_id,nullzero" json:"buyer_id,omitempty"`
	BuyerName         string    `bun:"buyer_name" json:"buyer_name"`
	BuyerEmail        string    `bun:"buyer_email" json:"buyer_email"`
	BuyerPhone        string    `bun:"buyer_phone" json:"buyer_phone,omitempty"`
	Status            string    `bun:"status" json:"status"`
	TotalAmount       float64   `bun:"total_amount" json:"total_amount"`
	Currency          string    `bun:"currency" json:"currency"`
	ProviderSessionID string    `bun:"provider_session_id" json:"provider_session_id,omitempty"`
	ProviderPaymentID string    `bun:"provider_payment_id" json:"provider_payment_id,omitempty"`
	PaidAt            time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CreatedAt         time.Time `bun:"created_at" json:"created_at"`
}

// OrderItem is one line of an order: a ticket type and how many units of it
// were purchased. Immutable after checkout.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	OrderItemID  string  `bun:"order_item_id,pk" json:"order_item_id"`
	OrderID      string  `bun:"order_id" json:"order_id"`
	TicketTypeID string  `bun:"ticket_type_id" json:"ticket_type_id"`
	UnitPrice    float64 `bun:"unit_price" json:"unit_price"`
	Quantity     int     `bun:"quantity" json:"quantity"`
	// Position preserves the line order of the original checkout payload;
	// settlement processes items in this order.
	Position int `bun:"position" json:"position"`
}

// EventDay is the day of a multi-day event an order is bound to. The settlement
// workflow only reads it to stamp tickets with their valid-for date.
type EventDay struct {
	bun.BaseModel `bun:"table:event_days"`

	EventDayID string    `bun:"event_day_id,pk" json:"event_day_id"`
	EventID    string    `bun:"event_id" json:"event_id"`
	Date       time.Time `bun:"date" json:"date"`
}
