// Package indicators implements the indicator ledger: one compliance record
// per (service, indicator) pair with guarded status transitions.
package indicators

import (
	"context"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/evidence"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
)

// MetricsRecounter refreshes a service's denormalized compliance counters.
// Implemented by the authorization rollup.
type MetricsRecounter interface {
	RecountMetrics(ctx context.Context, serviceID string) error
}

// Service implements indicator ledger business logic.
type Service struct {
	repo      Repository
	evidence  evidence.Store
	recounter MetricsRecounter
}

// NewService creates an indicator ledger service. The evidence store and
// recounter may be nil; evidence attachment is then unvalidated and counter
// refresh is skipped.
func NewService(repo Repository, evidenceStore evidence.Store, recounter MetricsRecounter) *Service {
	return &Service{
		repo:      repo,
		evidence:  evidenceStore,
		recounter: recounter,
	}
}

// CreateInput holds data for creating an indicator record.
type CreateInput struct {
	ServiceID      string
	Reference      string
	Category       string
	Name           string
	Description    string
	Applicability  domain.Applicability
	ValidationMode domain.ValidationMode
}

// Create records a new indicator for a service. Records start not-started,
// compliance unknown.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Indicator, error) {
	if input.Reference == "" {
		return nil, domain.NewValidationError("reference", "must not be empty")
	}
	mode := input.ValidationMode
	if mode == "" {
		mode = domain.ValidationModeNotValidated
	}
	if !mode.IsValid() {
		return nil, domain.NewValidationError("validation_mode", "unknown value "+string(mode))
	}

	indicator := &domain.Indicator{
		ServiceID:            input.ServiceID,
		Reference:            input.Reference,
		Category:             input.Category,
		Name:                 input.Name,
		Description:          input.Description,
		Applicability:        input.Applicability,
		ImplementationStatus: domain.ImplementationNotStarted,
		ComplianceStatus:     domain.ComplianceUnknown,
		ValidationMode:       mode,
	}

	if err := s.repo.Create(ctx, indicator); err != nil {
		return nil, fmt.Errorf("create indicator: %w", err)
	}

	s.refreshMetrics(ctx, input.ServiceID)

	return indicator, nil
}

// ReviewInput holds a manual review update.
type ReviewInput struct {
	ImplementationStatus *domain.ImplementationStatus
	ComplianceStatus     *domain.ComplianceStatus
	ValidationMode       *domain.ValidationMode
	AutomationPercent    *int
}

// Review applies a manual review to an indicator. A compliant determination
// is rejected while the indicator has never been validated.
func (s *Service) Review(ctx context.Context, id string, input ReviewInput) (*domain.Indicator, error) {
	indicator, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get indicator: %w", err)
	}

	if input.ImplementationStatus != nil {
		if !input.ImplementationStatus.IsValid() {
			return nil, domain.NewValidationError("implementation_status", "unknown value "+string(*input.ImplementationStatus))
		}
		indicator.ImplementationStatus = *input.ImplementationStatus
	}
	if input.ValidationMode != nil {
		if !input.ValidationMode.IsValid() {
			return nil, domain.NewValidationError("validation_mode", "unknown value "+string(*input.ValidationMode))
		}
		indicator.ValidationMode = *input.ValidationMode
	}
	if input.AutomationPercent != nil {
		if *input.AutomationPercent < 0 || *input.AutomationPercent > 100 {
			return nil, domain.NewValidationError("automation_percent", "must be between 0 and 100")
		}
		indicator.AutomationPercent = *input.AutomationPercent
	}
	if input.ComplianceStatus != nil {
		if !input.ComplianceStatus.IsValid() {
			return nil, domain.NewValidationError("compliance_status", "unknown value "+string(*input.ComplianceStatus))
		}
		if *input.ComplianceStatus == domain.ComplianceCompliant && !indicator.HasValidationEvidence() {
			return nil, domain.NewPreconditionError("indicator", id, "mark compliant",
				"indicator has never been validated")
		}
		indicator.ComplianceStatus = *input.ComplianceStatus
	}

	if err := s.repo.Update(ctx, indicator); err != nil {
		return nil, fmt.Errorf("update indicator: %w", err)
	}

	s.refreshMetrics(ctx, indicator.ServiceID)

	return indicator, nil
}

// MarkNotApplicable marks an indicator not applicable. Records are never
// physically deleted.
func (s *Service) MarkNotApplicable(ctx context.Context, id, reason string) (*domain.Indicator, error) {
	indicator, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get indicator: %w", err)
	}

	indicator.ImplementationStatus = domain.ImplementationNotApplicable
	indicator.ComplianceStatus = domain.ComplianceUnknown

	if err := s.repo.Update(ctx, indicator); err != nil {
		return nil, fmt.Errorf("update indicator: %w", err)
	}

	ctxlog.FromContext(ctx).Info("indicator marked not applicable",
		"indicator_id", id,
		"reason", reason,
	)

	s.refreshMetrics(ctx, indicator.ServiceID)

	return indicator, nil
}

// AttachEvidence links evidence identifiers to an indicator. When an
// evidence store is configured, each identifier must resolve.
func (s *Service) AttachEvidence(ctx context.Context, id string, evidenceIDs []string) (*domain.Indicator, error) {
	if len(evidenceIDs) == 0 {
		return nil, domain.NewValidationError("evidence_ids", "must not be empty")
	}

	indicator, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get indicator: %w", err)
	}

	if s.evidence != nil {
		for _, eid := range evidenceIDs {
			if _, err := s.evidence.Head(ctx, eid); err != nil {
				return nil, domain.NewValidationError("evidence_ids", "unresolvable evidence "+eid)
			}
		}
	}

	existing := make(map[string]bool, len(indicator.EvidenceIDs))
	for _, eid := range indicator.EvidenceIDs {
		existing[eid] = true
	}
	for _, eid := range evidenceIDs {
		if !existing[eid] {
			indicator.EvidenceIDs = append(indicator.EvidenceIDs, eid)
		}
	}

	if err := s.repo.Update(ctx, indicator); err != nil {
		return nil, fmt.Errorf("update indicator: %w", err)
	}

	return indicator, nil
}

// SetRemediationPlan links a remediation plan to an indicator.
func (s *Service) SetRemediationPlan(ctx context.Context, id, planID string) (*domain.Indicator, error) {
	indicator, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get indicator: %w", err)
	}

	indicator.RemediationPlanID = &planID

	if err := s.repo.Update(ctx, indicator); err != nil {
		return nil, fmt.Errorf("update indicator: %w", err)
	}

	return indicator, nil
}

// ApplyValidationResult stamps an automated validation outcome on all
// indicators of the service matching the given references. Called by the
// validation scheduler after each execution.
func (s *Service) ApplyValidationResult(ctx context.Context, serviceID string, references []string, passed bool, validatedAt time.Time) error {
	if len(references) == 0 {
		return nil
	}

	updated, err := s.repo.ApplyValidationResult(ctx, serviceID, references, ValidationResult{
		Passed:      passed,
		ValidatedAt: validatedAt,
	})
	if err != nil {
		return fmt.Errorf("apply validation result: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("validation result applied",
		"service_id", serviceID,
		"references", references,
		"passed", passed,
		"updated", updated,
	)

	s.refreshMetrics(ctx, serviceID)

	return nil
}

// Get retrieves an indicator by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Indicator, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByReference retrieves an indicator by (service, reference).
func (s *Service) GetByReference(ctx context.Context, serviceID, reference string) (*domain.Indicator, error) {
	return s.repo.GetByReference(ctx, serviceID, reference)
}

// ListByService lists a service's indicators.
func (s *Service) ListByService(ctx context.Context, serviceID string, filter Filter) ([]domain.Indicator, error) {
	return s.repo.ListByService(ctx, serviceID, filter)
}

// refreshMetrics triggers a rollup recount. Recount failure is logged, not
// propagated; counters catch up on the next change.
func (s *Service) refreshMetrics(ctx context.Context, serviceID string) {
	if s.recounter == nil {
		return
	}
	if err := s.recounter.RecountMetrics(ctx, serviceID); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to recount service metrics",
			"service_id", serviceID,
			"error", err,
		)
	}
}
