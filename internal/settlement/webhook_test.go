package settlement_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ms-settlement/internal/models"
	"ms-settlement/internal/settlement"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

// signPayload signs a webhook body the way Stripe does and returns the body
// plus the Stripe-Signature header value.
func signPayload(payload []byte, secret string) (body []byte, sigHeader string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func checkoutCompletedJSON(eventID, orderID, clientRef string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"api_version": "2025-04-30.basil",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"client_reference_id": %q,
				"metadata": {"order_id": %q},
				"payment_intent": "pi_123"
			}
		}
	}`, eventID, clientRef, orderID))
}

func webhookRequest(body []byte, sigHeader string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	return req
}

func TestWebhookMissingSignature(t *testing.T) {
	orders := new(MockOrderStore)
	svc := newTestService(orders, new(MockTicketStore), new(MockInventoryReader), nil)

	err := svc.HandleStripeWebhook(webhookRequest(checkoutCompletedJSON("evt_1", "order-1", ""), ""))

	var whErr *settlement.WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusBadRequest, whErr.StatusCode)
	orders.AssertNotCalled(t, "GetOrderByID", mock.Anything)
}

func TestWebhookForgedSignature(t *testing.T) {
	orders := new(MockOrderStore)
	svc := newTestService(orders, new(MockTicketStore), new(MockInventoryReader), nil)

	body, sig := signPayload(checkoutCompletedJSON("evt_1", "order-1", ""), "whsec_this_is_the_wrong_secret")
	err := svc.HandleStripeWebhook(webhookRequest(body, sig))

	var whErr *settlement.WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusBadRequest, whErr.StatusCode)
	// Nothing may have touched storage before the signature check passed.
	orders.AssertNotCalled(t, "GetOrderByID", mock.Anything)
	orders.AssertNotCalled(t, "ClaimPendingOrder", mock.Anything, mock.Anything)
}

func TestWebhookCheckoutCompletedSettles(t *testing.T) {
	orders := new(MockOrderStore)
	tickets := new(MockTicketStore)
	inventory := new(MockInventoryReader)
	svc := newTestService(orders, tickets, inventory, nil)

	orders.On("GetOrderByID", "order-1").Return(pendingOrder(), nil)
	orders.On("ClaimPendingOrder", "order-1", "pi_123").Return(true, nil)
	orders.On("GetOrderItems", "order-1").Return([]models.OrderItem{
		{OrderItemID: "item-1", OrderID: "order-1", TicketTypeID: "type-1", Quantity: 1},
	}, nil)
	orders.On("GetEventDay", "day-1").Return(eventDay(), nil)
	inventory.On("GetAvailability", "type-1").Return(&models.TicketTypeAvailability{
		TicketTypeID: "type-1", Capacity: 10, Remaining: 5, IsOnSale: true,
	}, nil)
	tickets.On("InsertTickets", mock.Anything).Return(nil)

	body, sig := signPayload(checkoutCompletedJSON("evt_1", "order-1", ""), testWebhookSecret)
	err := svc.HandleStripeWebhook(webhookRequest(body, sig))

	require.NoError(t, err)
	orders.AssertExpectations(t)
	tickets.AssertExpectations(t)
}

func TestWebhookClientReferenceFallback(t *testing.T) {
	orders := new(MockOrderStore)
	svc := newTestService(orders, new(MockTicketStore), new(MockInventoryReader), nil)

	// No metadata order id; the session's client_reference_id carries it.
	orders.On("GetOrderByID", "order-9").Return(nil, errors.New("boom")).Maybe()
	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_2",
				"object": "checkout.session",
				"client_reference_id": "order-9",
				"payment_intent": "pi_456"
			}
		}
	}`)
	body, sig := signPayload(payload, testWebhookSecret)
	err := svc.HandleStripeWebhook(webhookRequest(body, sig))

	// Storage failure is logged, not surfaced: the delivery is still acked.
	require.NoError(t, err)
	orders.AssertCalled(t, "GetOrderByID", "order-9")
}

func TestWebhookMissingOrderIDAcked(t *testing.T) {
	orders := new(MockOrderStore)
	svc := newTestService(orders, new(MockTicketStore), new(MockInventoryReader), nil)

	body, sig := signPayload(checkoutCompletedJSON("evt_3", "", ""), testWebhookSecret)
	err := svc.HandleStripeWebhook(webhookRequest(body, sig))

	require.NoError(t, err)
	orders.AssertNotCalled(t, "GetOrderByID", mock.Anything)
}

func TestWebhookIgnoresUnrelatedEventTypes(t *testing.T) {
	orders := new(MockOrderStore)
	svc := newTestService(orders, new(MockTicketStore), new(MockInventoryReader), nil)

	payload := []byte(`{
		"id": "evt_4",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_789", "object": "payment_intent"}}
	}`)
	body, sig := signPayload(payload, testWebhookSecret)
	err := svc.HandleStripeWebhook(webhookRequest(body, sig))

	require.NoError(t, err)
	orders.AssertNotCalled(t, "GetOrderByID", mock.Anything)
}

type fakeProcessedCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeProcessedCache() *fakeProcessedCache {
	return &fakeProcessedCache{seen: map[string]bool{}}
}

func (c *fakeProcessedCache) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[eventID], nil
}

func (c *fakeProcessedCache) MarkProcessed(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[eventID] = true
	return nil
}

func TestWebhookReplayShortCircuitsOnCache(t *testing.T) {
	orders := new(MockOrderStore)
	tickets := new(MockTicketStore)
	inventory := new(MockInventoryReader)

	cache := newFakeProcessedCache()
	svc := newTestService(orders, tickets, inventory, nil)
	svc.Cache = cache

	orders.On("GetOrderByID", "order-1").Return(pendingOrder(), nil).Once()
	orders.On("ClaimPendingOrder", "order-1", "pi_123").Return(true, nil).Once()
	orders.On("GetOrderItems", "order-1").Return([]models.OrderItem{
		{OrderItemID: "item-1", OrderID: "order-1", TicketTypeID: "type-1", Quantity: 1},
	}, nil).Once()
	orders.On("GetEventDay", "day-1").Return(eventDay(), nil).Once()
	inventory.On("GetAvailability", "type-1").Return(&models.TicketTypeAvailability{
		TicketTypeID: "type-1", Capacity: 10, Remaining: 5, IsOnSale: true,
	}, nil).Once()
	tickets.On("InsertTickets", mock.Anything).Return(nil).Once()

	deliver := func() error {
		body, sig := signPayload(checkoutCompletedJSON("evt_5", "order-1", ""), testWebhookSecret)
		return svc.HandleStripeWebhook(webhookRequest(body, sig))
	}

	require.NoError(t, deliver())
	assert.True(t, cache.seen["evt_5"], "terminal outcome marks the event processed")

	// The replay never reaches the store; every .Once() above still holds.
	require.NoError(t, deliver())
	orders.AssertExpectations(t)
	tickets.AssertExpectations(t)
}
