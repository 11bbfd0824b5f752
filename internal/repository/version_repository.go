package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/buildgen/internal/models"
)

type VersionRepository struct {
	db *sql.DB
}

func NewVersionRepository(db *sql.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) Create(ctx context.Context, projectID, code, description string) (*models.Version, error) {
	const query = `
INSERT INTO versions (id, project_id, code, description)
VALUES (?, ?, ?, ?)`
	id := uuid.NewString()
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, id, projectID, code, description); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	return &models.Version{
		ID:          id,
		ProjectID:   projectID,
		Code:        code,
		Description: description,
	}, nil
}

func (r *VersionRepository) Get(ctx context.Context, projectID, id string) (*models.Version, error) {
	const query = `
SELECT id, project_id, code, description, timestamp
FROM versions WHERE id = ? AND project_id = ?`
	var v models.Version
	err := querier(ctx, r.db).QueryRowContext(ctx, query, id, projectID).Scan(&v.ID, &v.ProjectID, &v.Code, &v.Description, &v.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &v, nil
}

func (r *VersionRepository) ListByProject(ctx context.Context, projectID string) ([]models.Version, error) {
	const query = `
SELECT id, project_id, code, description, timestamp
FROM versions WHERE project_id = ?
ORDER BY timestamp ASC`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]models.Version, 0)
	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Code, &v.Description, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
