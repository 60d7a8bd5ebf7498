package repository

import (
	"context"

	"github.com/sitedrop/sitedrop/internal/domain"
)

// QuotaRepository persists the global deploy counters. LoadQuotaState
// returns ErrNotFound when no record has been written yet.
type QuotaRepository interface {
	LoadQuotaState(ctx context.Context) (domain.QuotaState, error)
	SaveQuotaState(ctx context.Context, state domain.QuotaState) error
}

// DeploymentRepository stores deploy history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error)
}
