package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitedrop/sitedrop/internal/domain"
	"github.com/sitedrop/sitedrop/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.QuotaRepository      = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

// LoadQuotaState reads the single quota record.
func (r *Repository) LoadQuotaState(ctx context.Context) (domain.QuotaState, error) {
	const query = `SELECT quota_used, last_deploy_ts FROM quota_state WHERE id = 1`
	row := r.pool.QueryRow(ctx, query)
	var state domain.QuotaState
	if err := row.Scan(&state.QuotaUsed, &state.LastDeployTS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuotaState{}, repository.ErrNotFound
		}
		return domain.QuotaState{}, err
	}
	return state, nil
}

// SaveQuotaState rewrites the quota record.
func (r *Repository) SaveQuotaState(ctx context.Context, state domain.QuotaState) error {
	const query = `INSERT INTO quota_state (id, quota_used, last_deploy_ts)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET quota_used = EXCLUDED.quota_used, last_deploy_ts = EXCLUDED.last_deploy_ts`
	_, err := r.pool.Exec(ctx, query, state.QuotaUsed, state.LastDeployTS)
	return err
}

// CreateDeployment inserts a deploy history row.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, site_name, url, file_name, size_bytes, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.SiteName, deployment.URL, deployment.FileName,
		deployment.SizeBytes, deployment.Status, deployment.Error, deployment.CreatedAt)
	return err
}

// ListDeployments returns the most recent deploy history rows.
func (r *Repository) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	const query = `SELECT id, site_name, url, file_name, size_bytes, status, error, created_at
		FROM deployments
		ORDER BY created_at DESC
		LIMIT $1`
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.SiteName, &d.URL, &d.FileName, &d.SizeBytes, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
