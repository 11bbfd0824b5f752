package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/buildgen/internal/models"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, user_id, name, initial_prompt, current_code, current_version_index, is_published, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var (
		p         models.Project
		code      sql.NullString
		versionID sql.NullString
		published int
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialPrompt, &code, &versionID, &published, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if code.Valid {
		p.CurrentCode = &code.String
	}
	if versionID.Valid {
		p.CurrentVersionIndex = &versionID.String
	}
	p.IsPublished = published != 0
	return &p, nil
}

func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	const query = `
INSERT INTO projects (id, user_id, name, initial_prompt, is_published)
VALUES (?, ?, ?, ?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, project.ID, project.UserID, project.Name, project.InitialPrompt, boolToInt(project.IsPublished)); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	p, err := scanProject(querier(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetOwned returns the project only when userID owns it.
func (r *ProjectRepository) GetOwned(ctx context.Context, userID, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ? AND user_id = ?`
	p, err := scanProject(querier(ctx, r.db).QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get owned project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) ListByOwner(ctx context.Context, userID string) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = ? ORDER BY updated_at DESC`
	return r.list(ctx, query, userID)
}

func (r *ProjectRepository) ListPublished(ctx context.Context) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE is_published = 1 ORDER BY updated_at DESC`
	return r.list(ctx, query)
}

func (r *ProjectRepository) list(ctx context.Context, query string, args ...any) ([]models.Project, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepository) SetPublished(ctx context.Context, id string, published bool) error {
	const query = `UPDATE projects SET is_published = ? WHERE id = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, boolToInt(published), id); err != nil {
		return fmt.Errorf("set published: %w", err)
	}
	return nil
}

// SetCurrent points the project at a version and caches its document.
func (r *ProjectRepository) SetCurrent(ctx context.Context, id, code, versionID string) error {
	const query = `UPDATE projects SET current_code = ?, current_version_index = ? WHERE id = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, code, versionID, id); err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	const query = `DELETE FROM projects WHERE id = ? AND user_id = ?`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete project rows affected: %w", err)
	}
	return affected > 0, nil
}
