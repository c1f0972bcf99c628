package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/ticketcode"

	"github.com/google/uuid"
)

// Outcome is the terminal state a settlement attempt reached. Rejections and
// replays are outcomes, not errors: the transport acknowledges all of them.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeSalesClosed    Outcome = "sales_closed"
	OutcomeOverbooked     Outcome = "overbooked"
	OutcomeUnknownOrder   Outcome = "unknown_order"
)

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetEventDay(ctx context.Context, id string) (*models.EventDay, error)
	// ClaimPendingOrder must be a single atomic conditional update: it reports
	// true only for the one caller that moved the order out of pending.
	ClaimPendingOrder(ctx context.Context, orderID, paymentID string, paidAt time.Time) (bool, error)
	MarkOrderRejected(ctx context.Context, orderID, status string) error
}

type TicketStore interface {
	InsertTickets(ctx context.Context, tickets []models.Ticket) error
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
}

type InventoryReader interface {
	GetAvailability(ctx context.Context, ticketTypeID string) (*models.TicketTypeAvailability, error)
}

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

// ProcessedCache remembers notification ids that already ran to a terminal
// outcome. Purely advisory: any miss or error falls through to the database
// claim, which is the real idempotency gate.
type ProcessedCache interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type Topics struct {
	OrderSettled  string
	OrderRejected string
}

type Service struct {
	Orders    OrderStore
	Tickets   TicketStore
	Inventory InventoryReader
	Codes     *ticketcode.Generator
	Verifier  *Verifier
	Events    Publisher      // optional
	Cache     ProcessedCache // optional
	Topics    Topics
	Logger    *logger.Logger
}

func NewService(orders OrderStore, tickets TicketStore, inventory InventoryReader,
	codes *ticketcode.Generator, verifier *Verifier, events Publisher,
	cache ProcessedCache, topics Topics, log *logger.Logger) *Service {
	return &Service{
		Orders:    orders,
		Tickets:   tickets,
		Inventory: inventory,
		Codes:     codes,
		Verifier:  verifier,
		Events:    events,
		Cache:     cache,
		Topics:    topics,
		Logger:    log,
	}
}

// itemDecision is the result of re-checking one line item against live
// inventory: either keep folding over the remaining items or reject the whole
// order with a terminal status.
type itemDecision struct {
	reject bool
	status string
}

func checkAvailability(avail *models.TicketTypeAvailability, quantity int) itemDecision {
	if !avail.IsOnSale {
		return itemDecision{reject: true, status: models.OrderStatusSalesClosed}
	}
	if avail.Capacity > 0 && avail.Remaining < quantity {
		return itemDecision{reject: true, status: models.OrderStatusOverbooked}
	}
	return itemDecision{}
}

// SettleOrder drives one claimed notification to a terminal outcome: claim the
// order, re-check inventory per line item in the supplied order, mint the full
// ticket batch, persist it, and announce the result.
//
// Tickets are built in memory during the loop and inserted in one batch after
// it, so an inventory rejection on a later item leaves zero ticket rows.
func (s *Service) SettleOrder(ctx context.Context, orderID, paymentID string) (Outcome, error) {
	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.Logger.Warn("SETTLEMENT", fmt.Sprintf("order %s not found, dropping notification", orderID))
			return OutcomeUnknownOrder, nil
		}
		return "", fmt.Errorf("load order %s: %w", orderID, err)
	}

	claimed, err := s.Orders.ClaimPendingOrder(ctx, orderID, paymentID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("claim order %s: %w", orderID, err)
	}
	if !claimed {
		s.Logger.LogSettlement("CLAIM", orderID, "already handled, nothing to do")
		return OutcomeAlreadySettled, nil
	}
	s.Logger.LogSettlement("CLAIM", orderID, "claimed for settlement")

	items, err := s.Orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load items for order %s: %w", orderID, err)
	}

	day, err := s.Orders.GetEventDay(ctx, order.EventDayID)
	if err != nil {
		return "", fmt.Errorf("load event day %s: %w", order.EventDayID, err)
	}

	var tickets []models.Ticket
	for _, item := range items {
		avail, err := s.Inventory.GetAvailability(ctx, item.TicketTypeID)
		if err != nil {
			return "", fmt.Errorf("check availability for type %s: %w", item.TicketTypeID, err)
		}

		if d := checkAvailability(avail, item.Quantity); d.reject {
			s.Logger.LogSettlement("INVENTORY", orderID,
				fmt.Sprintf("type %s rejected (%s), aborting order", item.TicketTypeID, d.status))
			if err := s.Orders.MarkOrderRejected(ctx, orderID, d.status); err != nil {
				return "", fmt.Errorf("mark order %s %s: %w", orderID, d.status, err)
			}
			s.publishRejected(order, d.status)
			return Outcome(d.status), nil
		}

		for i := 0; i < item.Quantity; i++ {
			code, payload, err := s.Codes.NewSignedCode()
			if err != nil {
				// Never insert an unsigned ticket.
				return "", fmt.Errorf("mint code for order %s: %w", orderID, err)
			}
			tickets = append(tickets, models.Ticket{
				TicketID:      uuid.NewString(),
				EventID:       order.EventID,
				EventDayID:    order.EventDayID,
				ValidForDate:  day.Date,
				OrderID:       order.OrderID,
				OrderItemID:   item.OrderItemID,
				AttendeeID:    order.BuyerID,
				AttendeeName:  order.BuyerName,
				AttendeeEmail: order.BuyerEmail,
				TicketTypeID:  item.TicketTypeID,
				TicketCode:    code,
				QRPayload:     payload,
				Status:        models.TicketStatusActive,
				IssuedAt:      time.Now().UTC(),
			})
		}
	}

	if len(tickets) > 0 {
		if err := s.Tickets.InsertTickets(ctx, tickets); err != nil {
			return "", fmt.Errorf("insert tickets for order %s: %w", orderID, err)
		}
	}
	s.Logger.LogSettlement("MINT", orderID, fmt.Sprintf("issued %d tickets", len(tickets)))

	s.publishSettled(order, len(tickets))
	return OutcomeSettled, nil
}

// VerifyTicket is the server side of the scan flow: constant-time signature
// check first, then the code lookup.
func (s *Service) VerifyTicket(ctx context.Context, payload string) (*models.Ticket, error) {
	code, err := s.Codes.Verify(payload)
	if err != nil {
		return nil, err
	}
	ticket, err := s.Tickets.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("ticket lookup for code: %w", err)
	}
	return ticket, nil
}

// OrderTickets lists every ticket issued for an order.
func (s *Service) OrderTickets(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.Tickets.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// TicketQR renders the stored payload of a ticket as a PNG.
func (s *Service) TicketQR(ctx context.Context, ticketID string) ([]byte, error) {
	ticket, err := s.Tickets.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket %s not found: %w", ticketID, err)
	}
	return ticketcode.QRImage(ticket.QRPayload)
}

func (s *Service) publishSettled(order *models.Order, count int) {
	if s.Events == nil {
		return
	}
	event := models.OrderSettledEvent{
		Type:        "order.settled",
		OrderID:     order.OrderID,
		EventID:     order.EventID,
		TicketCount: count,
		Timestamp:   time.Now().UTC(),
	}
	s.publish(s.Topics.OrderSettled, order.OrderID, event)
}

func (s *Service) publishRejected(order *models.Order, reason string) {
	if s.Events == nil {
		return
	}
	event := models.OrderRejectedEvent{
		Type:      "order.rejected",
		OrderID:   order.OrderID,
		EventID:   order.EventID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	s.publish(s.Topics.OrderRejected, order.OrderID, event)
}

func (s *Service) publish(topic, key string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to encode event for %s: %v", key, err))
		return
	}
	if err := s.Events.Publish(topic, key, data); err != nil {
		// Settlement already committed; a lost event is log-worthy, not fatal.
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish to %s: %v", topic, err))
	}
}
