package authorization

import (
	"context"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for service authorization data operations.
type Repository interface {
	Create(ctx context.Context, auth *domain.ServiceAuthorization) error
	GetByServiceID(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error)
	List(ctx context.Context) ([]domain.ServiceAuthorization, error)

	// Update persists the aggregate with an optimistic version check.
	Update(ctx context.Context, auth *domain.ServiceAuthorization) error

	// UpdateMetrics overwrites only the denormalized counters. Counter
	// refresh does not contend with status transitions on the version.
	UpdateMetrics(ctx context.Context, serviceID string, metrics domain.ComplianceMetrics) error
}
