package incidents

import (
	"context"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for incident data operations.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filter Filter) ([]domain.Incident, error)

	// Update persists the aggregate with an optimistic version check. Two
	// concurrent transitions on the same incident cannot both succeed; the
	// loser gets a conflict error.
	Update(ctx context.Context, incident *domain.Incident) error

	AppendTimeline(ctx context.Context, incidentID string, entry *domain.TimelineEntry) error
	ListTimeline(ctx context.Context, incidentID string) ([]domain.TimelineEntry, error)
}

// Filter restricts incident listings. DetectedFrom is inclusive,
// DetectedBefore exclusive.
type Filter struct {
	ServiceID      *string
	Status         *domain.IncidentStatus
	Severity       *domain.IncidentSeverity
	Category       *domain.IncidentCategory
	DetectedFrom   *time.Time
	DetectedBefore *time.Time
}
