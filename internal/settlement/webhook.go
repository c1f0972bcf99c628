package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
)

// HandleStripeWebhook processes one webhook delivery end to end. Only an
// unauthenticated or unreadable notification produces an error (and with it a
// non-2xx answer); every recognized application-level outcome, including
// rejections and replays, is acknowledged so the provider does not retry a
// settlement that already reached a terminal state.
func (s *Service) HandleStripeWebhook(r *http.Request) error {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	event, err := s.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.Logger.Error("WEBHOOK", err.Error())
		return err
	}

	ctx := r.Context()

	if s.Cache != nil {
		seen, err := s.Cache.WasProcessed(ctx, event.ID)
		if err != nil {
			s.Logger.Warn("WEBHOOK", fmt.Sprintf("processed-cache check failed, continuing: %v", err))
		} else if seen {
			s.Logger.Info("WEBHOOK", fmt.Sprintf("event %s already processed, acknowledging replay", event.ID))
			return nil
		}
	}

	switch event.Type {
	case "checkout.session.completed":
		outcome := s.handleCheckoutCompleted(ctx, event)
		s.Logger.Info("WEBHOOK", fmt.Sprintf("event %s finished with outcome %q", event.ID, outcome))
		if outcome != "" {
			s.markProcessed(ctx, event.ID)
		}
	default:
		s.Logger.Info("WEBHOOK", fmt.Sprintf("ignoring event type %s", event.Type))
	}

	return nil
}

// handleCheckoutCompleted extracts the order identity from the session and
// runs settlement. It returns the terminal outcome, or "" when processing
// stopped short of one (a storage failure). Either way the delivery is
// acknowledged, so a stalled settlement surfaces in the logs, not as a
// provider retry storm.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) Outcome {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("failed to unmarshal checkout session: %v", err))
		return ""
	}

	orderID := session.Metadata["order_id"]
	if orderID == "" {
		orderID = session.ClientReferenceID
	}
	if orderID == "" {
		// Structurally bad payload; a retry cannot fix it, so drop it.
		s.Logger.Error("WEBHOOK", fmt.Sprintf("session %s carries no order id, dropping", session.ID))
		return OutcomeUnknownOrder
	}

	var paymentID string
	if session.PaymentIntent != nil {
		paymentID = session.PaymentIntent.ID
	}

	outcome, err := s.SettleOrder(ctx, orderID, paymentID)
	if err != nil {
		s.Logger.Error("SETTLEMENT", fmt.Sprintf("order %s: %v", orderID, err))
		return ""
	}
	return outcome
}

func (s *Service) markProcessed(ctx context.Context, eventID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.MarkProcessed(ctx, eventID); err != nil {
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("failed to record processed event %s: %v", eventID, err))
	}
}
