package reports

import (
	"context"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for authorization report data operations.
type Repository interface {
	Create(ctx context.Context, report *domain.AuthorizationReport) error
	GetByID(ctx context.Context, id string) (*domain.AuthorizationReport, error)
	ListByService(ctx context.Context, serviceID string) ([]domain.AuthorizationReport, error)

	// Update overwrites the mutable fields of a draft report.
	Update(ctx context.Context, report *domain.AuthorizationReport) error

	AddReviewComment(ctx context.Context, reportID string, comment *domain.ReviewComment) error
	ListReviewComments(ctx context.Context, reportID string) ([]domain.ReviewComment, error)
}
