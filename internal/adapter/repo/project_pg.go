package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
	"crowdfund/internal/sqlinline"
)

// ProjectRepositoryPG implements domain.ProjectRepository using PostgreSQL.
type ProjectRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProjectRepositoryPG creates a new project repo.
func NewProjectRepositoryPG(sql infra.SQLExecutor) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{sql: sql}
}

// Create inserts a new project. ID and CreatedAt must be set by the caller.
func (r *ProjectRepositoryPG) Create(ctx context.Context, p *domain.Project) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertProject,
		p.ID, p.Title, p.Author, p.ORCID, p.Description, p.MediaURL, p.HPCProvider,
		p.GPUHours.String(), p.GoalAmount.String(), p.Currency, p.WalletAddress, p.CreatorID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// Get returns the project with its per-currency totals.
func (r *ProjectRepositoryPG) Get(ctx context.Context, id string) (*domain.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
	}
	p, err := scanProject(r.sql.QueryRow(ctx, sqlinline.QSelectProjectByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns the most recent projects.
func (r *ProjectRepositoryPG) List(ctx context.Context, limit int) ([]domain.Project, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListProjects, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collectProjects(rows)
}

// ListByCreator returns the projects created by the given user.
func (r *ProjectRepositoryPG) ListByCreator(ctx context.Context, creatorID string) ([]domain.Project, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListProjectsByCreator, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list creator projects: %w", err)
	}
	return collectProjects(rows)
}

// AddUpdate stores a progress note for a project.
func (r *ProjectRepositoryPG) AddUpdate(ctx context.Context, u *domain.ProjectUpdate) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QInsertProjectUpdate, u.ID, u.ProjectID, u.Body, u.CreatedAt); err != nil {
		return fmt.Errorf("insert project update: %w", err)
	}
	return nil
}

// ListUpdates returns a project's updates, newest first.
func (r *ProjectRepositoryPG) ListUpdates(ctx context.Context, projectID string) ([]domain.ProjectUpdate, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("project %q: %w", projectID, domain.ErrNotFound)
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListProjectUpdates, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project updates: %w", err)
	}
	defer rows.Close()
	var items []domain.ProjectUpdate
	for rows.Next() {
		var u domain.ProjectUpdate
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Body, &u.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func collectProjects(rows pgx.Rows) ([]domain.Project, error) {
	defer rows.Close()
	var items []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p        domain.Project
		gpuHours string
		goal     string
		totals   []byte
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Author, &p.ORCID, &p.Description, &p.MediaURL, &p.HPCProvider,
		&gpuHours, &goal, &p.Currency, &p.WalletAddress, &p.CreatorID, &p.CreatedAt, &totals); err != nil {
		return nil, err
	}
	var err error
	if p.GPUHours, err = decimal.NewFromString(gpuHours); err != nil {
		return nil, fmt.Errorf("decode gpu hours: %w", err)
	}
	if p.GoalAmount, err = decimal.NewFromString(goal); err != nil {
		return nil, fmt.Errorf("decode goal amount: %w", err)
	}
	p.Totals, err = decodeTotals(totals)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeTotals(raw []byte) (map[string]decimal.Decimal, error) {
	totals := map[string]decimal.Decimal{}
	if len(raw) == 0 {
		return totals, nil
	}
	var byCurrency map[string]string
	if err := json.Unmarshal(raw, &byCurrency); err != nil {
		return nil, fmt.Errorf("decode totals: %w", err)
	}
	for currency, v := range byCurrency {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("decode total %s: %w", currency, err)
		}
		totals[currency] = d
	}
	return totals, nil
}

var _ domain.ProjectRepository = (*ProjectRepositoryPG)(nil)
