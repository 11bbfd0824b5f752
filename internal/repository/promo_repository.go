package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/buildgen/internal/models"
)

// ErrPromoExhausted is returned when a code has no uses left.
var ErrPromoExhausted = errors.New("promo code exhausted")

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

const promoColumns = `id, code, credits, max_uses, uses, created_at`

func scanPromo(row interface{ Scan(...any) error }) (*models.PromoCode, error) {
	var promo models.PromoCode
	if err := row.Scan(&promo.ID, &promo.Code, &promo.Credits, &promo.MaxUses, &promo.Uses, &promo.CreatedAt); err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *PromoRepository) getOne(ctx context.Context, query string, arg any) (*models.PromoCode, error) {
	promo, err := scanPromo(querier(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return promo, nil
}

// GetByCodeForUpdate locks the promo row until the surrounding transaction ends.
func (r *PromoRepository) GetByCodeForUpdate(ctx context.Context, code string) (*models.PromoCode, error) {
	promo, err := r.getOne(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = ? FOR UPDATE`, strings.ToUpper(code))
	if err != nil {
		return nil, fmt.Errorf("lock promo: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	promo, err := r.getOne(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get promo by id: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	promos := make([]models.PromoCode, 0)
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		promos = append(promos, *promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, credits, max_uses, uses)
VALUES (?, ?, ?, 0)`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, strings.ToUpper(promo.Code), promo.Credits, promo.MaxUses)
	if err != nil {
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
UPDATE promo_codes
SET code = ?, credits = ?, max_uses = ?, uses = ?
WHERE id = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, strings.ToUpper(promo.Code), promo.Credits, promo.MaxUses, promo.Uses, promo.ID); err != nil {
		return nil, fmt.Errorf("update promo: %w", err)
	}
	return r.GetByID(ctx, promo.ID)
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	if _, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM promo_codes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

func (r *PromoRepository) IncrementUsage(ctx context.Context, promoID int64) error {
	const query = `
UPDATE promo_codes SET uses = uses + 1
WHERE id = ? AND uses < max_uses`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, promoID)
	if err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("promo usage rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPromoExhausted
	}
	return nil
}

func (r *PromoRepository) HasUserRedeemed(ctx context.Context, userID string, promoID int64) (bool, error) {
	const query = `SELECT 1 FROM promo_redemptions WHERE user_id = ? AND promo_code_id = ?`
	var dummy int
	if err := querier(ctx, r.db).QueryRowContext(ctx, query, userID, promoID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check promo redemption: %w", err)
	}
	return true, nil
}

func (r *PromoRepository) RecordRedemption(ctx context.Context, userID string, promoID int64) error {
	const query = `
INSERT INTO promo_redemptions (user_id, promo_code_id)
VALUES (?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, userID, promoID); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}
