package indicators

import (
	"context"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for indicator ledger data operations.
type Repository interface {
	Create(ctx context.Context, indicator *domain.Indicator) error
	GetByID(ctx context.Context, id string) (*domain.Indicator, error)
	GetByReference(ctx context.Context, serviceID, reference string) (*domain.Indicator, error)
	ListByService(ctx context.Context, serviceID string, filter Filter) ([]domain.Indicator, error)
	Update(ctx context.Context, indicator *domain.Indicator) error

	// ApplyValidationResult stamps the validation outcome on every indicator
	// of the service matching one of the references, in a single statement.
	ApplyValidationResult(ctx context.Context, serviceID string, references []string, result ValidationResult) (int, error)
}

// Filter restricts indicator listings.
type Filter struct {
	Category         *string
	ComplianceStatus *domain.ComplianceStatus
	ValidationMode   *domain.ValidationMode
}

// ValidationResult is the outcome the scheduler stamps on indicators.
type ValidationResult struct {
	Passed      bool
	ValidatedAt time.Time
}
