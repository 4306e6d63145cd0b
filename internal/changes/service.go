// Package changes implements the change-control lifecycle: a guarded state
// machine per proposed change with a two-stage gate — impact analysis must
// complete before the notification requirement can be determined, and the
// notification must resolve before approval.
package changes

import (
	"context"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
	"github.com/bracken-sec/conmon/internal/pkg/metrics"
	"github.com/bracken-sec/conmon/internal/sink"
)

// Service implements change control business logic.
type Service struct {
	repo Repository
	sink sink.Publisher
}

// NewService creates a change control service.
func NewService(repo Repository, publisher sink.Publisher) *Service {
	if publisher == nil {
		publisher = sink.NopPublisher{}
	}
	return &Service{repo: repo, sink: publisher}
}

// CreateInput holds data for drafting a change request.
type CreateInput struct {
	ServiceID              string
	Title                  string
	Description            string
	Type                   domain.ChangeType
	PlannedAt              *time.Time
	SecurityReviewRequired bool
}

// Create drafts a new change request.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.ChangeRequest, error) {
	if input.Title == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}
	if !input.Type.IsValid() {
		return nil, domain.NewValidationError("type", "unknown value "+string(input.Type))
	}

	change := &domain.ChangeRequest{
		ServiceID:              input.ServiceID,
		Title:                  input.Title,
		Description:            input.Description,
		Type:                   input.Type,
		Status:                 domain.ChangeDraft,
		RequestedAt:            time.Now().UTC(),
		PlannedAt:              input.PlannedAt,
		SecurityReviewRequired: input.SecurityReviewRequired,
		CreatedBy:              httputil.GetActor(ctx),
	}

	if err := s.repo.Create(ctx, change); err != nil {
		return nil, fmt.Errorf("create change request: %w", err)
	}

	entry := s.newEntry(ctx, change, "drafted", "change request drafted", "")
	if err := s.repo.AppendAudit(ctx, change.ID, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	metrics.RecordTransition("change", "create")

	return change, nil
}

// Submit submits a drafted change request for processing.
func (s *Service) Submit(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "submitted", "change request submitted", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeDraft {
				return transitionError(c, "submit")
			}
			c.Status = domain.ChangeSubmitted
			return nil
		})
}

// StartImpactAnalysis begins impact analysis. Legal only from submitted.
func (s *Service) StartImpactAnalysis(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "impact_analysis_started", "impact analysis started", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeSubmitted {
				return transitionError(c, "start impact analysis")
			}
			c.Status = domain.ChangeImpactAnalysis
			return nil
		})
}

// ImpactInput holds the completed impact-analysis payload.
type ImpactInput struct {
	Level              domain.ImpactLevel
	AffectedComponents []string
	AffectedIndicators []string
	AffectedControls   []string
	RiskBefore         string
	RiskAfter          string
	RiskDelta          domain.RiskDelta
}

// CompleteImpactAnalysis records the analysis outcome and advances to
// impact-assessed. Legal only from impact-analysis.
func (s *Service) CompleteImpactAnalysis(ctx context.Context, id string, input ImpactInput) (*domain.ChangeRequest, error) {
	if !input.Level.IsValid() {
		return nil, domain.NewValidationError("level", "unknown value "+string(input.Level))
	}
	if !input.RiskDelta.IsValid() {
		return nil, domain.NewValidationError("risk_delta", "unknown value "+string(input.RiskDelta))
	}

	return s.transition(ctx, id, "impact_assessed", "impact analysis completed",
		fmt.Sprintf("impact %s, risk delta %s", input.Level, input.RiskDelta),
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeImpactAnalysis {
				return transitionError(c, "complete impact analysis")
			}
			c.Status = domain.ChangeImpactAssessed
			c.Impact = &domain.ImpactAnalysis{
				Level:              input.Level,
				AffectedComponents: input.AffectedComponents,
				AffectedIndicators: input.AffectedIndicators,
				AffectedControls:   input.AffectedControls,
				RiskBefore:         input.RiskBefore,
				RiskAfter:          input.RiskAfter,
				RiskDelta:          input.RiskDelta,
				CompletedAt:        now,
				CompletedBy:        httputil.GetActor(ctx),
			}
			return nil
		})
}

// DetermineNotificationRequired records whether an external significant
// change notification is required and branches the lifecycle accordingly.
// Legal only from impact-assessed.
func (s *Service) DetermineNotificationRequired(ctx context.Context, id string, required bool, category, rationale string) (*domain.ChangeRequest, error) {
	description := "notification determined not required"
	if required {
		description = "notification determined required"
	}

	return s.transition(ctx, id, "notification_determined", description, rationale,
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeImpactAssessed {
				return transitionError(c, "determine notification requirement")
			}
			c.Notification = &domain.NotificationDetermination{
				Required:     required,
				Category:     category,
				Rationale:    rationale,
				DeterminedAt: now,
				DeterminedBy: httputil.GetActor(ctx),
			}
			if required {
				c.Status = domain.ChangeSCNRequired
			} else {
				c.Status = domain.ChangeSCNNotRequired
			}
			return nil
		})
}

// SubmitNotification records submission of the external notification. Legal
// only from the required branch.
func (s *Service) SubmitNotification(ctx context.Context, id, caseNo string) (*domain.ChangeRequest, error) {
	change, err := s.transition(ctx, id, "scn_submitted", "significant change notification submitted",
		"case "+caseNo,
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeSCNRequired {
				return transitionError(c, "submit notification")
			}
			c.Status = domain.ChangeSCNSubmitted
			c.SCNSubmittedAt = &now
			if caseNo != "" {
				c.SCNCaseNo = &caseNo
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(change, sink.EventChangeNotificationSent)
	return change, nil
}

// AcknowledgeNotification records the external acknowledgement. Legal only
// from scn-submitted.
func (s *Service) AcknowledgeNotification(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "scn_acknowledged", "notification acknowledged", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeSCNSubmitted {
				return transitionError(c, "acknowledge notification")
			}
			c.Status = domain.ChangeSCNAcknowledged
			c.SCNAcknowledgedAt = &now
			return nil
		})
}

// CompleteSecurityReview marks the required security review complete.
func (s *Service) CompleteSecurityReview(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "security_review_completed", "security review completed", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status.IsTerminal() {
				return transitionError(c, "complete security review")
			}
			if !c.SecurityReviewRequired {
				return domain.NewPreconditionError("change_request", c.ID, "complete security review",
					"no security review is required")
			}
			c.SecurityReviewDone = true
			return nil
		})
}

// Approve approves the change. Legal from scn-not-required, scn-acknowledged
// or impact-assessed (the latter covers low-impact changes that skip formal
// notification but still need sign-off). A required security review must be
// complete, and a required notification must be acknowledged.
func (s *Service) Approve(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	change, err := s.transition(ctx, id, "approved", "change request approved", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			switch c.Status {
			case domain.ChangeSCNNotRequired, domain.ChangeSCNAcknowledged, domain.ChangeImpactAssessed:
			default:
				return transitionError(c, "approve")
			}
			if c.SecurityReviewRequired && !c.SecurityReviewDone {
				return domain.NewPreconditionError("change_request", c.ID, "approve",
					"security review is required but not complete")
			}
			if c.Status != domain.ChangeImpactAssessed && !c.NotificationResolved() {
				return domain.NewPreconditionError("change_request", c.ID, "approve",
					"notification has not been resolved")
			}
			actor := httputil.GetActor(ctx)
			c.Status = domain.ChangeApproved
			c.ApprovedBy = &actor
			c.ApprovedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(change, sink.EventChangeApproved)
	return change, nil
}

// MarkImplemented records that the approved change is implemented.
func (s *Service) MarkImplemented(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "implemented", "change implemented", "",
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status != domain.ChangeApproved {
				return transitionError(c, "mark implemented")
			}
			c.Status = domain.ChangeImplemented
			c.ImplementedAt = &now
			return nil
		})
}

// Reject rejects the change. Legal from any non-terminal status.
func (s *Service) Reject(ctx context.Context, id, reason string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "rejected", "change request rejected", reason,
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status.IsTerminal() {
				return transitionError(c, "reject")
			}
			c.Status = domain.ChangeRejected
			return nil
		})
}

// Withdraw withdraws the change at the requester's initiative. Legal from
// any non-terminal status.
func (s *Service) Withdraw(ctx context.Context, id, reason string) (*domain.ChangeRequest, error) {
	return s.transition(ctx, id, "withdrawn", "change request withdrawn", reason,
		func(c *domain.ChangeRequest, now time.Time) error {
			if c.Status.IsTerminal() {
				return transitionError(c, "withdraw")
			}
			c.Status = domain.ChangeWithdrawn
			return nil
		})
}

// Get retrieves a change request by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// List lists change requests.
func (s *Service) List(ctx context.Context, filter Filter) ([]domain.ChangeRequest, error) {
	return s.repo.List(ctx, filter)
}

// AuditTrail retrieves a change request's audit trail, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, id)
}

func (s *Service) transition(ctx context.Context, id, kind, description, detail string,
	fn func(c *domain.ChangeRequest, now time.Time) error,
) (*domain.ChangeRequest, error) {
	change, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get change request: %w", err)
	}

	now := time.Now().UTC()
	if err := fn(change, now); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, change); err != nil {
		return nil, fmt.Errorf("update change request: %w", err)
	}

	entry := s.newEntry(ctx, change, kind, description, detail)
	if err := s.repo.AppendAudit(ctx, change.ID, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	metrics.RecordTransition("change", kind)

	return change, nil
}

func (s *Service) newEntry(ctx context.Context, change *domain.ChangeRequest, kind, description, detail string) *domain.AuditEntry {
	return &domain.AuditEntry{
		EventKind:   kind,
		Description: description,
		Detail:      detail,
		Status:      change.Status,
		CreatedBy:   httputil.GetActor(ctx),
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Service) publish(change *domain.ChangeRequest, kind sink.EventKind) {
	s.sink.Publish(sink.Event{
		AggregateID: change.ID,
		Kind:        kind,
		OccurredAt:  time.Now().UTC(),
		Payload: map[string]any{
			"service_id": change.ServiceID,
			"title":      change.Title,
			"type":       change.Type,
			"status":     change.Status,
		},
	})
}

func transitionError(c *domain.ChangeRequest, action string) error {
	return domain.NewPreconditionError("change_request", c.ID, action,
		"not permitted from status "+string(c.Status))
}
