// Package incidents implements the security-incident lifecycle: a guarded
// state machine per incident with a parallel external-reporting sub-state
// and a regulation-driven reporting deadline.
package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
	"github.com/bracken-sec/conmon/internal/pkg/metrics"
	"github.com/bracken-sec/conmon/internal/sink"
)

// Service implements incident lifecycle business logic.
type Service struct {
	repo Repository
	sink sink.Publisher
}

// NewService creates an incident lifecycle service.
func NewService(repo Repository, publisher sink.Publisher) *Service {
	if publisher == nil {
		publisher = sink.NopPublisher{}
	}
	return &Service{repo: repo, sink: publisher}
}

// CreateInput holds data for recording a detected incident.
type CreateInput struct {
	ServiceID       string
	Title           string
	Description     string
	Category        domain.IncidentCategory
	Severity        domain.IncidentSeverity
	DetectedAt      time.Time
	DetectionSource string
	RelatedCheckIDs []string
}

// Create records a newly detected incident. Informational incidents carry no
// reporting obligation; every other severity gets a deadline of detection
// time plus the severity's offset, and the reporting sub-state starts
// pending.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Incident, error) {
	if input.Title == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}
	if !input.Category.IsValid() {
		return nil, domain.NewValidationError("category", "unknown value "+string(input.Category))
	}
	if !input.Severity.IsValid() {
		return nil, domain.NewValidationError("severity", "unknown value "+string(input.Severity))
	}

	detectedAt := input.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	incident := &domain.Incident{
		ServiceID:       input.ServiceID,
		Title:           input.Title,
		Description:     input.Description,
		Category:        input.Category,
		Severity:        input.Severity,
		Status:          domain.IncidentDetected,
		DetectedAt:      detectedAt,
		DetectionSource: input.DetectionSource,
		RelatedCheckIDs: input.RelatedCheckIDs,
		CreatedBy:       httputil.GetActor(ctx),
	}
	incident.Reporting, incident.ReportDeadline = initialReporting(input.Severity, detectedAt)

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	entry := s.newEntry(ctx, incident, "detected", "incident detected",
		fmt.Sprintf("severity %s, category %s, source %s", incident.Severity, incident.Category, incident.DetectionSource))
	if err := s.repo.AppendTimeline(ctx, incident.ID, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	metrics.RecordTransition("incident", "create")

	return incident, nil
}

// MarkReported records that the incident was reported internally.
// Legal only from detected.
func (s *Service) MarkReported(ctx context.Context, id string) (*domain.Incident, error) {
	return s.transition(ctx, id, "reported", "incident reported", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentDetected {
				return transitionError(inc, "report")
			}
			inc.Status = domain.IncidentReported
			inc.Milestones.ReportedAt = &now
			return nil
		})
}

// BeginAnalysis starts incident analysis. Legal only from detected or
// reported.
func (s *Service) BeginAnalysis(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "analysis_started", "analysis started", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentDetected && inc.Status != domain.IncidentReported {
				return transitionError(inc, "begin analysis")
			}
			inc.Status = domain.IncidentAnalyzing
			inc.Milestones.AnalysisStartedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentAnalysisStarted)
	return incident, nil
}

// RecordContainment records that the incident is contained. Legal from
// detected, reported or analyzing.
func (s *Service) RecordContainment(ctx context.Context, id, detail string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "contained", "incident contained", detail,
		func(inc *domain.Incident, now time.Time) error {
			switch inc.Status {
			case domain.IncidentDetected, domain.IncidentReported, domain.IncidentAnalyzing:
			default:
				return transitionError(inc, "record containment")
			}
			inc.Status = domain.IncidentContained
			inc.Milestones.ContainedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentContained)
	return incident, nil
}

// BeginEradication starts eradication. Requires containment.
func (s *Service) BeginEradication(ctx context.Context, id string) (*domain.Incident, error) {
	return s.transition(ctx, id, "eradication_started", "eradication started", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentContained {
				return transitionError(inc, "begin eradication")
			}
			inc.Status = domain.IncidentEradicating
			return nil
		})
}

// RecordEradication records that the threat is eradicated. Legal only from
// eradicating.
func (s *Service) RecordEradication(ctx context.Context, id, detail string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "eradicated", "threat eradicated", detail,
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentEradicating {
				return transitionError(inc, "record eradication")
			}
			inc.Status = domain.IncidentEradicated
			inc.Milestones.EradicatedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentEradicated)
	return incident, nil
}

// BeginRecovery starts service recovery. Requires eradication.
func (s *Service) BeginRecovery(ctx context.Context, id string) (*domain.Incident, error) {
	return s.transition(ctx, id, "recovery_started", "recovery started", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentEradicated {
				return transitionError(inc, "begin recovery")
			}
			inc.Status = domain.IncidentRecovering
			inc.Milestones.RecoveryStartedAt = &now
			return nil
		})
}

// RecordRecovery records full recovery. Legal from eradicated or recovering.
func (s *Service) RecordRecovery(ctx context.Context, id, detail string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "recovered", "service recovered", detail,
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentEradicated && inc.Status != domain.IncidentRecovering {
				return transitionError(inc, "record recovery")
			}
			inc.Status = domain.IncidentRecovered
			inc.Milestones.RecoveredAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentRecovered)
	return incident, nil
}

// RecordLessonsLearned records the post-incident review. Legal only from
// recovered.
func (s *Service) RecordLessonsLearned(ctx context.Context, id, detail string) (*domain.Incident, error) {
	return s.transition(ctx, id, "lessons_learned", "lessons-learned review recorded", detail,
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentRecovered {
				return transitionError(inc, "record lessons learned")
			}
			inc.Status = domain.IncidentLessonsLearned
			return nil
		})
}

// Close closes the incident. Requires recovered or lessons-learned, and the
// external-reporting sub-state must be terminal: an incident cannot close
// while a report is still pending or mid-update.
func (s *Service) Close(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "closed", "incident closed", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status != domain.IncidentRecovered && inc.Status != domain.IncidentLessonsLearned {
				return transitionError(inc, "close")
			}
			if !inc.Reporting.IsTerminal() {
				return domain.NewPreconditionError("incident", inc.ID, "close",
					"external reporting is still "+string(inc.Reporting))
			}
			inc.Status = domain.IncidentClosed
			inc.Milestones.ClosedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentClosed)
	return incident, nil
}

// UpdateSeverity revises the incident's severity. The reporting deadline is
// recomputed only while the reporting sub-state is still pending; an
// incident already reported keeps its original deadline even if severity is
// revised upward afterward.
func (s *Service) UpdateSeverity(ctx context.Context, id string, severity domain.IncidentSeverity) (*domain.Incident, error) {
	if !severity.IsValid() {
		return nil, domain.NewValidationError("severity", "unknown value "+string(severity))
	}

	return s.transition(ctx, id, "severity_updated", "severity updated",
		"new severity "+string(severity),
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status == domain.IncidentClosed {
				return transitionError(inc, "update severity")
			}
			inc.Severity = severity
			if inc.Reporting == domain.ReportingPending || inc.Reporting == domain.ReportingNotRequired {
				inc.Reporting, inc.ReportDeadline = initialReporting(severity, inc.DetectedAt)
			}
			return nil
		})
}

// UpdateImpact records measured impact figures.
func (s *Service) UpdateImpact(ctx context.Context, id string, impact domain.IncidentImpact) (*domain.Incident, error) {
	return s.transition(ctx, id, "impact_updated", "impact assessment updated", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status == domain.IncidentClosed {
				return transitionError(inc, "update impact")
			}
			inc.Impact = impact
			return nil
		})
}

// UpdateAttack records attack-technical detail.
func (s *Service) UpdateAttack(ctx context.Context, id string, attack domain.IncidentAttack) (*domain.Incident, error) {
	return s.transition(ctx, id, "attack_updated", "attack detail updated", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Status == domain.IncidentClosed {
				return transitionError(inc, "update attack detail")
			}
			inc.Attack = attack
			return nil
		})
}

// SubmitReport records submission of the external report. Legal while the
// sub-state is pending (initial report) or update-required (follow-up).
func (s *Service) SubmitReport(ctx context.Context, id, caseNo string) (*domain.Incident, error) {
	incident, err := s.transition(ctx, id, "report_submitted", "external report submitted",
		"case "+caseNo,
		func(inc *domain.Incident, now time.Time) error {
			switch inc.Reporting {
			case domain.ReportingPending:
				inc.Reporting = domain.ReportingSubmitted
			case domain.ReportingUpdateRequired:
				inc.Reporting = domain.ReportingUpdateSubmitted
			default:
				return domain.NewPreconditionError("incident", inc.ID, "submit report",
					"reporting sub-state is "+string(inc.Reporting))
			}
			if caseNo != "" {
				inc.ReportCaseNo = &caseNo
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.publish(incident, sink.EventIncidentReportSubmitted)
	return incident, nil
}

// RequireReportUpdate flags that the external report needs a follow-up.
// Legal from submitted or update-submitted.
func (s *Service) RequireReportUpdate(ctx context.Context, id, reason string) (*domain.Incident, error) {
	return s.transition(ctx, id, "report_update_required", "report update required", reason,
		func(inc *domain.Incident, now time.Time) error {
			if inc.Reporting != domain.ReportingSubmitted && inc.Reporting != domain.ReportingUpdateSubmitted {
				return domain.NewPreconditionError("incident", inc.ID, "require report update",
					"reporting sub-state is "+string(inc.Reporting))
			}
			inc.Reporting = domain.ReportingUpdateRequired
			return nil
		})
}

// FinalizeReport records the final external report. Legal from submitted or
// update-submitted.
func (s *Service) FinalizeReport(ctx context.Context, id string) (*domain.Incident, error) {
	return s.transition(ctx, id, "report_finalized", "final external report submitted", "",
		func(inc *domain.Incident, now time.Time) error {
			if inc.Reporting != domain.ReportingSubmitted && inc.Reporting != domain.ReportingUpdateSubmitted {
				return domain.NewPreconditionError("incident", inc.ID, "finalize report",
					"reporting sub-state is "+string(inc.Reporting))
			}
			inc.Reporting = domain.ReportingFinalSubmitted
			return nil
		})
}

// AddTimelineEntry appends a free-form narrative note to the timeline.
func (s *Service) AddTimelineEntry(ctx context.Context, id, description, detail string) (*domain.TimelineEntry, error) {
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}

	entry := s.newEntry(ctx, incident, "note", description, detail)
	if err := s.repo.AppendTimeline(ctx, id, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}
	return entry, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetByID(ctx, id)
}

// List lists incidents.
func (s *Service) List(ctx context.Context, filter Filter) ([]domain.Incident, error) {
	return s.repo.List(ctx, filter)
}

// Timeline retrieves an incident's timeline, oldest first.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTimeline(ctx, id)
}

// transition loads the incident, applies the guarded mutation, appends the
// timeline entry and persists under the optimistic version check.
func (s *Service) transition(ctx context.Context, id, kind, description, detail string,
	fn func(inc *domain.Incident, now time.Time) error,
) (*domain.Incident, error) {
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}

	now := time.Now().UTC()
	if err := fn(incident, now); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	entry := s.newEntry(ctx, incident, kind, description, detail)
	if err := s.repo.AppendTimeline(ctx, incident.ID, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	metrics.RecordTransition("incident", kind)

	return incident, nil
}

func (s *Service) newEntry(ctx context.Context, incident *domain.Incident, kind, description, detail string) *domain.TimelineEntry {
	return &domain.TimelineEntry{
		EventKind:   kind,
		Description: description,
		Detail:      detail,
		Status:      incident.Status,
		CreatedBy:   httputil.GetActor(ctx),
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Service) publish(incident *domain.Incident, kind sink.EventKind) {
	s.sink.Publish(sink.Event{
		AggregateID: incident.ID,
		Kind:        kind,
		OccurredAt:  time.Now().UTC(),
		Payload: map[string]any{
			"service_id": incident.ServiceID,
			"title":      incident.Title,
			"severity":   incident.Severity,
			"status":     incident.Status,
		},
	})
}

// initialReporting derives the reporting sub-state and deadline for a
// severity at the given detection time.
func initialReporting(severity domain.IncidentSeverity, detectedAt time.Time) (domain.ReportingState, *time.Time) {
	offset, required := severity.ReportingDeadline()
	if !required {
		return domain.ReportingNotRequired, nil
	}
	deadline := detectedAt.Add(offset)
	return domain.ReportingPending, &deadline
}

func transitionError(inc *domain.Incident, action string) error {
	return domain.NewPreconditionError("incident", inc.ID, action,
		"not permitted from status "+string(inc.Status))
}
