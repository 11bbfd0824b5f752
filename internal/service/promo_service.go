package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/buildgen/internal/models"
	"github.com/digkill/buildgen/internal/repository"
)

type PromoService struct {
	log    *slog.Logger
	stores Stores
}

func NewPromoService(log *slog.Logger, stores Stores) *PromoService {
	return &PromoService{log: log, stores: stores}
}

// Redeem applies a promo code once per account and returns the new balance.
func (s *PromoService) Redeem(ctx context.Context, accountID, code string) (int, error) {
	if accountID == "" {
		return 0, ErrUnauthorized
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrPromoInvalid
	}

	var balance int
	err := s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		promo, err := s.stores.Promos.GetByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if promo == nil {
			return ErrPromoInvalid
		}
		if promo.Uses >= promo.MaxUses {
			return ErrPromoExhausted
		}

		redeemed, err := s.stores.Promos.HasUserRedeemed(ctx, accountID, promo.ID)
		if err != nil {
			return err
		}
		if redeemed {
			return ErrPromoAlreadyRedeemed
		}

		if err := s.stores.Promos.RecordRedemption(ctx, accountID, promo.ID); err != nil {
			return err
		}
		if err := s.stores.Promos.IncrementUsage(ctx, promo.ID); err != nil {
			if errors.Is(err, repository.ErrPromoExhausted) {
				return ErrPromoExhausted
			}
			return err
		}
		if err := s.stores.Accounts.AddCredits(ctx, accountID, promo.Credits); err != nil {
			return err
		}
		if err := s.stores.Ledger.Append(ctx, accountID, promo.Credits, models.LedgerReasonPromo, promo.Code); err != nil {
			return err
		}

		account, err := s.stores.Accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if account != nil {
			balance = account.Credits
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("promo redeemed", "user_id", accountID, "code", strings.ToUpper(code))
	return balance, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.stores.Promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, promo models.PromoCode) (*models.PromoCode, error) {
	if err := validatePromo(promo); err != nil {
		return nil, err
	}
	return s.stores.Promos.Create(ctx, &promo)
}

func (s *PromoService) Update(ctx context.Context, promo models.PromoCode) (*models.PromoCode, error) {
	if err := validatePromo(promo); err != nil {
		return nil, err
	}
	existing, err := s.stores.Promos.GetByID(ctx, promo.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPromoInvalid
	}
	return s.stores.Promos.Update(ctx, &promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.stores.Promos.Delete(ctx, id)
}

func validatePromo(p models.PromoCode) error {
	switch {
	case strings.TrimSpace(p.Code) == "":
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	case p.Credits <= 0:
		return fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	case p.MaxUses <= 0:
		return fmt.Errorf("%w: max_uses must be positive", ErrInvalidInput)
	case p.Uses < 0:
		return fmt.Errorf("%w: uses cannot be negative", ErrInvalidInput)
	}
	return nil
}
