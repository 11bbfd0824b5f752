package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/buildgen/internal/models"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Append(ctx context.Context, projectID string, role models.Role, content string) error {
	const query = `
INSERT INTO conversations (id, project_id, role, content)
VALUES (?, ?, ?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, uuid.NewString(), projectID, role, content); err != nil {
		return fmt.Errorf("insert conversation entry: %w", err)
	}
	return nil
}

// ListByProject returns entries oldest first; seq breaks timestamp ties in insertion order.
func (r *ConversationRepository) ListByProject(ctx context.Context, projectID string) ([]models.ConversationEntry, error) {
	const query = `
SELECT id, project_id, role, content, timestamp
FROM conversations WHERE project_id = ?
ORDER BY timestamp ASC, seq ASC`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	entries := make([]models.ConversationEntry, 0)
	for rows.Next() {
		var e models.ConversationEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
