package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/buildgen/internal/billing"
	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/models"
)

var errTransactionNotFound = errors.New("transaction not found")

var plans = []models.Plan{
	{ID: "basic", Credits: 100, Amount: 5},
	{ID: "pro", Credits: 400, Amount: 19},
	{ID: "enterprise", Credits: 1000, Amount: 49},
}

// Plans returns the credit packages on sale.
func Plans() []models.Plan {
	out := make([]models.Plan, len(plans))
	copy(out, plans)
	return out
}

func findPlan(id string) (models.Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return models.Plan{}, false
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	stores   Stores
	gateway  PaymentGateway
	notifier Notifier
	metrics  Recorder
	now      func() time.Time
}

func NewPaymentService(cfg config.Config, log *slog.Logger, stores Stores, gateway PaymentGateway, notifier Notifier, metrics Recorder) *PaymentService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		gateway:  gateway,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// PurchaseCredits records a pending transaction and returns a hosted checkout URL for it.
func (s *PaymentService) PurchaseCredits(ctx context.Context, accountID, planID, origin string) (string, error) {
	if accountID == "" {
		return "", ErrUnauthorized
	}
	plan, ok := findPlan(planID)
	if !ok {
		return "", ErrPlanNotFound
	}
	origin = strings.TrimRight(origin, "/")

	txn := &models.Transaction{
		ID:      uuid.NewString(),
		UserID:  accountID,
		PlanID:  plan.ID,
		Amount:  plan.Amount,
		Credits: plan.Credits,
	}
	if err := s.stores.Transactions.Create(ctx, txn); err != nil {
		return "", err
	}

	checkout, err := s.gateway.CreateCheckout(ctx, billing.CheckoutRequest{
		TransactionID: txn.ID,
		AppID:         s.cfg.AppID,
		Credits:       plan.Credits,
		AmountCents:   int64(plan.Amount) * 100,
		SuccessURL:    origin + "/loading",
		CancelURL:     origin,
		ExpiresAt:     s.now().Add(s.cfg.CheckoutExpiry),
	})
	if err != nil {
		return "", err
	}

	s.log.Info("checkout started", "user_id", accountID, "plan", plan.ID, "transaction_id", txn.ID)
	return checkout.URL, nil
}

// HandleWebhook verifies a payment provider callback and settles completed checkouts.
// Events for other apps or of other types are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return err
	}

	if evt.Type != billing.EventCheckoutCompleted {
		s.log.Debug("webhook ignored", "event_id", evt.ID, "type", evt.Type)
		return nil
	}
	if evt.Metadata["appId"] != s.cfg.AppID {
		s.log.Debug("webhook for another app", "event_id", evt.ID, "app_id", evt.Metadata["appId"])
		return nil
	}
	txnID := evt.Metadata["transactionId"]
	if txnID == "" {
		s.log.Warn("checkout without transaction id", "event_id", evt.ID, "session_id", evt.SessionID)
		return nil
	}

	_, err = s.Settle(ctx, txnID, evt.SessionID)
	return err
}

// Settle marks the transaction paid and credits the account once. It reports whether this
// call did the settlement.
func (s *PaymentService) Settle(ctx context.Context, transactionID, providerRef string) (bool, error) {
	var txn *models.Transaction
	settled := false

	err := s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.stores.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return errTransactionNotFound
		}
		ok, err := s.stores.Transactions.MarkPaid(ctx, transactionID, providerRef)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.stores.Accounts.AddCredits(ctx, txn.UserID, txn.Credits); err != nil {
			return err
		}
		if err := s.stores.Ledger.Append(ctx, txn.UserID, txn.Credits, models.LedgerReasonPurchase, txn.ID); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if errors.Is(err, errTransactionNotFound) {
		s.log.Warn("settlement for unknown transaction ignored", "transaction_id", transactionID, "provider_ref", providerRef)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !settled {
		s.log.Info("transaction already settled", "transaction_id", transactionID)
		return false, nil
	}
	s.metrics.IncPaymentSettled()
	s.notifier.PaymentSettled(txn.UserID, txn.ID, txn.Credits)
	s.log.Info("payment settled", "transaction_id", txn.ID, "user_id", txn.UserID, "credits", txn.Credits)
	return true, nil
}
