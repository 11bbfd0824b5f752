package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/buildgen/internal/models"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	const query = `
INSERT INTO transactions (id, user_id, plan_id, amount, credits, is_paid)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, txn.ID, txn.UserID, txn.PlanID, txn.Amount, txn.Credits, boolToInt(txn.IsPaid)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	const query = `
SELECT id, user_id, plan_id, amount, credits, is_paid, COALESCE(provider_ref, ''), created_at, updated_at
FROM transactions WHERE id = ?`
	var (
		t    models.Transaction
		paid int
	)
	err := querier(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&t.ID, &t.UserID, &t.PlanID, &t.Amount, &t.Credits, &paid, &t.ProviderRef, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.IsPaid = paid != 0
	return &t, nil
}

// MarkPaid flips an unpaid transaction to paid. It reports false if it was already paid.
func (r *TransactionRepository) MarkPaid(ctx context.Context, id, providerRef string) (bool, error) {
	const query = `
UPDATE transactions SET is_paid = 1, provider_ref = NULLIF(?, ''), updated_at = NOW()
WHERE id = ? AND is_paid = 0`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, providerRef, id)
	if err != nil {
		return false, fmt.Errorf("mark transaction paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark paid rows affected: %w", err)
	}
	return affected > 0, nil
}
