package changes

import (
	"context"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for change request data operations.
type Repository interface {
	Create(ctx context.Context, change *domain.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)
	List(ctx context.Context, filter Filter) ([]domain.ChangeRequest, error)

	// Update persists the aggregate with an optimistic version check.
	Update(ctx context.Context, change *domain.ChangeRequest) error

	AppendAudit(ctx context.Context, changeID string, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, changeID string) ([]domain.AuditEntry, error)
}

// Filter restricts change request listings. RequestedFrom is inclusive,
// RequestedBefore exclusive.
type Filter struct {
	ServiceID       *string
	Status          *domain.ChangeStatus
	Type            *domain.ChangeType
	RequestedFrom   *time.Time
	RequestedBefore *time.Time
}
