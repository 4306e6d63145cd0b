// Package authorization implements the per-service authorization rollup:
// denormalized compliance counters refreshed by full recount, plus the
// service's own authorization status machine.
package authorization

import (
	"context"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/indicators"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
	"github.com/bracken-sec/conmon/internal/pkg/metrics"
)

// assessmentInterval is the time from granting authorization to the next
// required assessment.
const assessmentInterval = 365 * 24 * time.Hour

// IndicatorLister reads a service's indicator records for recounting.
type IndicatorLister interface {
	ListByService(ctx context.Context, serviceID string, filter indicators.Filter) ([]domain.Indicator, error)
}

// Service implements authorization rollup business logic.
type Service struct {
	repo   Repository
	ledger IndicatorLister
}

// NewService creates an authorization rollup service.
func NewService(repo Repository, ledger IndicatorLister) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput holds data for registering a service authorization record.
type CreateInput struct {
	ServiceID   string
	ServiceName string
	ImpactTier  domain.ImpactTier
}

// Create registers a service authorization record in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.ServiceAuthorization, error) {
	if input.ServiceName == "" {
		return nil, domain.NewValidationError("service_name", "must not be empty")
	}
	if !input.ImpactTier.IsValid() {
		return nil, domain.NewValidationError("impact_tier", "unknown value "+string(input.ImpactTier))
	}

	auth := &domain.ServiceAuthorization{
		ServiceID:   input.ServiceID,
		ServiceName: input.ServiceName,
		Status:      domain.AuthorizationDraft,
		ImpactTier:  input.ImpactTier,
	}

	if err := s.repo.Create(ctx, auth); err != nil {
		return nil, fmt.Errorf("create service authorization: %w", err)
	}
	return auth, nil
}

// RecountMetrics recomputes the service's denormalized counters from the
// indicator ledger. Always a full recount, never an incremental delta, so
// repeated calls with no intervening changes are idempotent.
func (s *Service) RecountMetrics(ctx context.Context, serviceID string) error {
	records, err := s.ledger.ListByService(ctx, serviceID, indicators.Filter{})
	if err != nil {
		return fmt.Errorf("list indicators: %w", err)
	}

	counters := domain.ComplianceMetrics{
		TotalIndicators: len(records),
		RecountedAt:     time.Now().UTC(),
	}
	for _, record := range records {
		if record.ComplianceStatus == domain.ComplianceCompliant {
			counters.CompliantIndicators++
		}
		if record.ValidationMode == domain.ValidationModeAutomated || record.ValidationMode == domain.ValidationModeHybrid {
			counters.AutomatedIndicators++
		}
	}
	if counters.TotalIndicators > 0 {
		counters.CompliancePercent = 100 * float64(counters.CompliantIndicators) / float64(counters.TotalIndicators)
		counters.AutomationPercent = 100 * float64(counters.AutomatedIndicators) / float64(counters.TotalIndicators)
	}

	if err := s.repo.UpdateMetrics(ctx, serviceID, counters); err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("service metrics recounted",
		"service_id", serviceID,
		"total", counters.TotalIndicators,
		"compliant", counters.CompliantIndicators,
		"automated", counters.AutomatedIndicators,
	)

	return nil
}

// MarkReady marks the package ready for authorization. Legal only from draft.
func (s *Service) MarkReady(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.transition(ctx, serviceID, "ready", func(auth *domain.ServiceAuthorization) error {
		if auth.Status != domain.AuthorizationDraft {
			return transitionError(auth, "mark ready")
		}
		auth.Status = domain.AuthorizationReady
		return nil
	})
}

// Submit submits the service for authorization. Legal only from ready.
func (s *Service) Submit(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.transition(ctx, serviceID, "submit", func(auth *domain.ServiceAuthorization) error {
		if auth.Status != domain.AuthorizationReady {
			return transitionError(auth, "submit for authorization")
		}
		auth.Status = domain.AuthorizationInProcess
		return nil
	})
}

// Grant grants authorization. Legal only from in-process. The next
// assessment falls due one year after the grant.
func (s *Service) Grant(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.transition(ctx, serviceID, "grant", func(auth *domain.ServiceAuthorization) error {
		if auth.Status != domain.AuthorizationInProcess {
			return transitionError(auth, "grant authorization")
		}
		now := time.Now().UTC()
		next := now.Add(assessmentInterval)
		auth.Status = domain.AuthorizationGranted
		auth.AuthorizedAt = &now
		auth.NextAssessmentAt = &next
		return nil
	})
}

// Revoke revokes a granted authorization.
func (s *Service) Revoke(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.transition(ctx, serviceID, "revoke", func(auth *domain.ServiceAuthorization) error {
		if auth.Status != domain.AuthorizationGranted {
			return transitionError(auth, "revoke authorization")
		}
		auth.Status = domain.AuthorizationRevoked
		return nil
	})
}

// Withdraw withdraws the service from the authorization process. Legal from
// any status except revoked or withdrawn.
func (s *Service) Withdraw(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.transition(ctx, serviceID, "withdraw", func(auth *domain.ServiceAuthorization) error {
		if auth.Status == domain.AuthorizationRevoked || auth.Status == domain.AuthorizationWithdrawn {
			return transitionError(auth, "withdraw")
		}
		auth.Status = domain.AuthorizationWithdrawn
		return nil
	})
}

// Get retrieves a service authorization record.
func (s *Service) Get(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	return s.repo.GetByServiceID(ctx, serviceID)
}

// List lists all service authorization records.
func (s *Service) List(ctx context.Context) ([]domain.ServiceAuthorization, error) {
	return s.repo.List(ctx)
}

func (s *Service) transition(ctx context.Context, serviceID, action string,
	fn func(auth *domain.ServiceAuthorization) error,
) (*domain.ServiceAuthorization, error) {
	auth, err := s.repo.GetByServiceID(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("get service authorization: %w", err)
	}

	if err := fn(auth); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, auth); err != nil {
		return nil, fmt.Errorf("update service authorization: %w", err)
	}

	metrics.RecordTransition("authorization", action)

	return auth, nil
}

func transitionError(auth *domain.ServiceAuthorization, action string) error {
	return domain.NewPreconditionError("service_authorization", auth.ServiceID, action,
		"not permitted from status "+string(auth.Status))
}
