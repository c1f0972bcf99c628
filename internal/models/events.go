package models

import "time"

// OrderSettledEvent is published to Kafka after an order settles and its
// tickets are persisted.
type OrderSettledEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	EventID     string    `json:"event_id"`
	TicketCount int       `json:"ticket_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderRejectedEvent is published when settlement ends in a rejection
// (sales closed or overbooked).
type OrderRejectedEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	EventID   string    `json:"event_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
