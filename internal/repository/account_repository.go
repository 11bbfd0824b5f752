package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/buildgen/internal/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, COALESCE(email, ''), COALESCE(name, ''), credits, total_creation, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Credits, &a.TotalCreation, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	a, err := scanAccount(querier(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// GetForUpdate locks the account row until the surrounding transaction ends.
func (r *AccountRepository) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ? FOR UPDATE`
	a, err := scanAccount(querier(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `
INSERT INTO accounts (id, email, name, credits, total_creation)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, account.ID, account.Email, account.Name, account.Credits, account.TotalCreation); err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return r.Get(ctx, account.ID)
}

func (r *AccountRepository) UpdateProfile(ctx context.Context, id, email, name string) error {
	const query = `
UPDATE accounts SET email = COALESCE(NULLIF(?, ''), email), name = COALESCE(NULLIF(?, ''), name), updated_at = NOW()
WHERE id = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, email, name, id); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure returns the account, creating it with the starting balance on first sight.
func (r *AccountRepository) Ensure(ctx context.Context, id, email, name string, startingCredits int) (*models.Account, bool, error) {
	account, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		if (email != "" && email != account.Email) || (name != "" && name != account.Name) {
			if err := r.UpdateProfile(ctx, id, email, name); err != nil {
				return nil, false, err
			}
		}
		return account, false, nil
	}
	created, err := r.Create(ctx, &models.Account{
		ID:      id,
		Email:   email,
		Name:    name,
		Credits: startingCredits,
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// AddCredits applies delta to the balance. Negative deltas may take the balance below zero;
// callers that must not overdraw use Debit.
func (r *AccountRepository) AddCredits(ctx context.Context, id string, delta int) error {
	const query = `UPDATE accounts SET credits = credits + ?, updated_at = NOW() WHERE id = ?`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update credits: account %s not found", id)
	}
	return nil
}

// Debit removes amount only when the balance covers it.
func (r *AccountRepository) Debit(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE accounts SET credits = credits - ?, updated_at = NOW()
WHERE id = ? AND credits >= ?`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *AccountRepository) IncrementCreations(ctx context.Context, id string) error {
	const query = `UPDATE accounts SET total_creation = total_creation + 1, updated_at = NOW() WHERE id = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment creations: %w", err)
	}
	return nil
}
