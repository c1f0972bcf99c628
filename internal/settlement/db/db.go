package db

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("position").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *DB) GetEventDay(ctx context.Context, id string) (*models.EventDay, error) {
	var day models.EventDay
	err := d.Bun.NewSelect().
		Model(&day).
		Where("event_day_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// ClaimPendingOrder moves an order from pending to paid in one conditional
// UPDATE. The WHERE clause on status is what makes concurrent deliveries of
// the same notification safe: only one statement can affect the row.
func (d *DB) ClaimPendingOrder(ctx context.Context, orderID, paymentID string, paidAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderStatusPaid).
		Set("provider_payment_id = ?", paymentID).
		Set("paid_at = ?", paidAt).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderStatusPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkOrderRejected records an inventory rejection. It is conditional on the
// paid status the claim just set, so it can only fire inside the claiming
// invocation.
func (d *DB) MarkOrderRejected(ctx context.Context, orderID, status string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderStatusPaid).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return fmt.Errorf("order %s is not in a claimed state", orderID)
	}
	return nil
}

// ---------------- TICKETS ----------------

func (d *DB) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("issued_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ---------------- INVENTORY ----------------

// GetAvailability reads the live inventory view for one ticket type. The
// checkout-time snapshot is never trusted at settlement time.
func (d *DB) GetAvailability(ctx context.Context, ticketTypeID string) (*models.TicketTypeAvailability, error) {
	var avail models.TicketTypeAvailability
	err := d.Bun.NewSelect().
		Model(&avail).
		Where("ticket_type_id = ?", ticketTypeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &avail, nil
}
