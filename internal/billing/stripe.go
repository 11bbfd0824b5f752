package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const EventCheckoutCompleted = string(stripe.EventTypeCheckoutSessionCompleted)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutRequest describes one hosted checkout for a credit package.
type CheckoutRequest struct {
	TransactionID string
	AppID         string
	Credits       int
	AmountCents   int64
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
}

type Checkout struct {
	SessionID string
	URL       string
}

// Event is the part of a webhook event the service settles on.
type Event struct {
	ID        string
	Type      string
	SessionID string
	Metadata  map[string]string
}

type Stripe struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

func NewStripe(secretKey, webhookSecret string, log *slog.Logger) *Stripe {
	return NewStripeWithBackends(secretKey, webhookSecret, nil, log)
}

// NewStripeWithBackends allows pointing the SDK at a different API host.
func NewStripeWithBackends(secretKey, webhookSecret string, backends *stripe.Backends, log *slog.Logger) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api, webhookSecret: webhookSecret, log: log}
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s - %d credits", req.AppID, req.Credits)),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		ExpiresAt: stripe.Int64(req.ExpiresAt.Unix()),
	}
	params.Context = ctx
	params.AddMetadata("transactionId", req.TransactionID)
	params.AddMetadata("appId", req.AppID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if s.log != nil {
		s.log.Info("checkout session created", "transaction_id", req.TransactionID, "session_id", sess.ID)
	}
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the signature header and decodes the event.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if out.Type != EventCheckoutCompleted || evt.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	out.Metadata = sess.Metadata
	return out, nil
}
