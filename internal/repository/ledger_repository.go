package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/buildgen/internal/models"
)

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, userID string, delta int, reason models.LedgerReason, reference string) error {
	const query = `
INSERT INTO credit_ledger (user_id, delta, reason, reference)
VALUES (?, ?, ?, NULLIF(?, ''))`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, userID, delta, reason, reference); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	const query = `
SELECT id, user_id, delta, reason, COALESCE(reference, ''), created_at
FROM credit_ledger WHERE user_id = ?
ORDER BY id DESC LIMIT ?`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
