package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/models"
)

// noteColumnWidth matches credit_ledger.reference.
const noteColumnWidth = 64

type AccountService struct {
	cfg    config.Config
	log    *slog.Logger
	stores Stores
}

func NewAccountService(cfg config.Config, log *slog.Logger, stores Stores) *AccountService {
	return &AccountService{cfg: cfg, log: log, stores: stores}
}

// Ensure makes sure the authenticated identity has an account row.
func (s *AccountService) Ensure(ctx context.Context, id, email, name string) (*models.Account, error) {
	if id == "" {
		return nil, ErrUnauthorized
	}
	account, created, err := s.stores.Accounts.Ensure(ctx, id, email, name, s.cfg.DefaultCredits)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	if created {
		s.log.Info("account created", "user_id", id, "credits", account.Credits)
	}
	return account, nil
}

func (s *AccountService) Credits(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, ErrUnauthorized
	}
	account, err := s.stores.Accounts.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, ErrUnauthorized
	}
	return account.Credits, nil
}

// AdjustCredits is the operator's manual correction. The balance may not go negative.
func (s *AccountService) AdjustCredits(ctx context.Context, id string, delta int, note string) (int, error) {
	if id == "" || delta == 0 {
		return 0, ErrInvalidInput
	}
	note = truncateRunes(strings.TrimSpace(note), noteColumnWidth)

	var balance int
	err := s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		account, err := s.stores.Accounts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrNotFound
		}
		if account.Credits+delta < 0 {
			return ErrInsufficientCredits
		}
		if err := s.stores.Accounts.AddCredits(ctx, id, delta); err != nil {
			return err
		}
		if err := s.stores.Ledger.Append(ctx, id, delta, models.LedgerReasonAdjustment, note); err != nil {
			return err
		}
		balance = account.Credits + delta
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("credits adjusted", "user_id", id, "delta", delta, "balance", balance)
	return balance, nil
}

func (s *AccountService) History(ctx context.Context, id string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.stores.Ledger.ListByUser(ctx, id, limit)
}
