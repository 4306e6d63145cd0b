// Package reports implements the quarterly authorization report aggregator.
// A report is a frozen point-in-time compliance snapshot: drafted with
// independently captured summaries, attested, then submitted and sealed.
package reports

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bracken-sec/conmon/internal/changes"
	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/incidents"
	"github.com/bracken-sec/conmon/internal/indicators"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
	"github.com/bracken-sec/conmon/internal/pkg/metrics"
	"github.com/bracken-sec/conmon/internal/sink"
	"github.com/bracken-sec/conmon/internal/validation"
)

// IndicatorSource reads indicator records for snapshot capture.
type IndicatorSource interface {
	ListByService(ctx context.Context, serviceID string, filter indicators.Filter) ([]domain.Indicator, error)
}

// IncidentSource reads incidents for snapshot capture.
type IncidentSource interface {
	List(ctx context.Context, filter incidents.Filter) ([]domain.Incident, error)
}

// ChangeSource reads change requests for snapshot capture.
type ChangeSource interface {
	List(ctx context.Context, filter changes.Filter) ([]domain.ChangeRequest, error)
}

// RuleSource reads validation rules for snapshot capture.
type RuleSource interface {
	ListRules(ctx context.Context, filter validation.RuleFilter) ([]domain.CheckDefinition, error)
}

// VulnerabilitySource is the external vulnerability tracker collaborator.
type VulnerabilitySource interface {
	Summary(ctx context.Context, serviceID string, period domain.ReportPeriod) (domain.VulnerabilitySnapshot, error)
}

// Sources bundles the collaborators the aggregator reads from. Any of them
// may be nil; a missing collaborator degrades its snapshot to zero values.
type Sources struct {
	Indicators      IndicatorSource
	Incidents       IncidentSource
	Changes         ChangeSource
	Rules           RuleSource
	Vulnerabilities VulnerabilitySource
}

// Service implements report aggregation business logic.
type Service struct {
	repo    Repository
	sources Sources
	sink    sink.Publisher
}

// NewService creates a report aggregator service.
func NewService(repo Repository, sources Sources, publisher sink.Publisher) *Service {
	if publisher == nil {
		publisher = sink.NopPublisher{}
	}
	return &Service{repo: repo, sources: sources, sink: publisher}
}

// Generate creates a draft report for the quarter with all snapshots
// captured concurrently. A capture that fails leaves zero-valued defaults
// rather than failing the report.
func (s *Service) Generate(ctx context.Context, serviceID string, year, quarter int) (*domain.AuthorizationReport, error) {
	period, err := domain.QuarterPeriod(year, quarter)
	if err != nil {
		return nil, err
	}

	report := &domain.AuthorizationReport{
		ServiceID: serviceID,
		Period:    period,
		Status:    domain.ReportDraft,
	}

	g, captureCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Indicators = s.captureIndicators(captureCtx, serviceID)
		return nil
	})
	g.Go(func() error {
		report.Vulnerabilities = s.captureVulnerabilities(captureCtx, serviceID, period)
		return nil
	})
	g.Go(func() error {
		report.Incidents = s.captureIncidents(captureCtx, serviceID, period)
		return nil
	})
	g.Go(func() error {
		report.Changes = s.captureChanges(captureCtx, serviceID, period)
		return nil
	})
	g.Go(func() error {
		report.Validation = s.captureValidation(captureCtx, serviceID)
		return nil
	})
	// Captures degrade to defaults instead of returning errors.
	_ = g.Wait()

	if err := s.repo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	metrics.RecordTransition("report", "generate")

	return report, nil
}

// Get retrieves a report by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.AuthorizationReport, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByService lists a service's reports.
func (s *Service) ListByService(ctx context.Context, serviceID string) ([]domain.AuthorizationReport, error) {
	return s.repo.ListByService(ctx, serviceID)
}

// SetNarrative replaces the report narrative. Draft only.
func (s *Service) SetNarrative(ctx context.Context, id, narrative string) (*domain.AuthorizationReport, error) {
	return s.mutateDraft(ctx, id, "edit narrative", func(report *domain.AuthorizationReport) {
		report.Narrative = narrative
	})
}

// AttestationInput is the sign-off recorded before submission.
type AttestationInput struct {
	Role      string
	Statement string
}

// RecordAttestation records the sign-off required for submission. Draft only.
func (s *Service) RecordAttestation(ctx context.Context, id string, input AttestationInput) (*domain.AuthorizationReport, error) {
	if input.Statement == "" {
		return nil, domain.NewValidationError("statement", "must not be empty")
	}
	return s.mutateDraft(ctx, id, "record attestation", func(report *domain.AuthorizationReport) {
		report.Attestation = &domain.Attestation{
			AttestedBy: httputil.GetActor(ctx),
			Role:       input.Role,
			Statement:  input.Statement,
			AttestedAt: time.Now().UTC(),
		}
	})
}

// Submit seals the report. Requires a recorded attestation; afterwards the
// summary fields are immutable and carry a content digest.
func (s *Service) Submit(ctx context.Context, id string) (*domain.AuthorizationReport, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}

	if report.Status != domain.ReportDraft {
		return nil, domain.NewPreconditionError("report", id, "submit",
			"not permitted from status "+string(report.Status))
	}
	if report.Attestation == nil {
		return nil, domain.NewPreconditionError("report", id, "submit",
			"an attestation must be recorded first")
	}

	digest, err := summaryDigest(report)
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}
	now := time.Now().UTC()
	report.Status = domain.ReportSubmitted
	report.Digest = &digest
	report.SubmittedAt = &now

	if err := s.repo.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}

	metrics.RecordTransition("report", "submit")
	s.sink.Publish(sink.Event{
		AggregateID: report.ID,
		Kind:        sink.EventReportSubmitted,
		OccurredAt:  now,
		Payload: map[string]any{
			"service_id": report.ServiceID,
			"year":       report.Period.Year,
			"quarter":    report.Period.Quarter,
			"digest":     digest,
		},
	})

	return report, nil
}

// AddReviewComment appends a reviewer annotation. The only mutation
// permitted after submission.
func (s *Service) AddReviewComment(ctx context.Context, id, comment string) (*domain.ReviewComment, error) {
	if comment == "" {
		return nil, domain.NewValidationError("comment", "must not be empty")
	}

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}

	entry := &domain.ReviewComment{
		Author:    httputil.GetActor(ctx),
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AddReviewComment(ctx, id, entry); err != nil {
		return nil, fmt.Errorf("add review comment: %w", err)
	}
	return entry, nil
}

// ListReviewComments lists a report's reviewer annotations.
func (s *Service) ListReviewComments(ctx context.Context, id string) ([]domain.ReviewComment, error) {
	return s.repo.ListReviewComments(ctx, id)
}

func (s *Service) mutateDraft(ctx context.Context, id, action string,
	fn func(report *domain.AuthorizationReport),
) (*domain.AuthorizationReport, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}

	if report.Status != domain.ReportDraft {
		return nil, domain.NewPreconditionError("report", id, action,
			"report is sealed after submission")
	}

	fn(report)

	if err := s.repo.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	return report, nil
}

var titleCaser = cases.Title(language.AmericanEnglish)

// displayCategory turns an enum key into its report display name,
// e.g. "access_control" into "Access Control".
func displayCategory(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

func (s *Service) captureIndicators(ctx context.Context, serviceID string) domain.IndicatorSnapshot {
	snapshot := domain.IndicatorSnapshot{
		ByCategory: map[string]int{},
		ByStatus:   map[string]int{},
	}
	if s.sources.Indicators == nil {
		return snapshot
	}

	records, err := s.sources.Indicators.ListByService(ctx, serviceID, indicators.Filter{})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("indicator snapshot degraded to defaults",
			"service_id", serviceID, "error", err)
		return snapshot
	}

	snapshot.Total = len(records)
	for _, record := range records {
		snapshot.ByCategory[displayCategory(record.Category)]++
		snapshot.ByStatus[string(record.ComplianceStatus)]++
	}
	return snapshot
}

func (s *Service) captureVulnerabilities(ctx context.Context, serviceID string, period domain.ReportPeriod) domain.VulnerabilitySnapshot {
	if s.sources.Vulnerabilities == nil {
		return domain.VulnerabilitySnapshot{BySeverity: map[string]int{}}
	}

	snapshot, err := s.sources.Vulnerabilities.Summary(ctx, serviceID, period)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("vulnerability snapshot degraded to defaults",
			"service_id", serviceID, "error", err)
		return domain.VulnerabilitySnapshot{BySeverity: map[string]int{}}
	}
	if snapshot.BySeverity == nil {
		snapshot.BySeverity = map[string]int{}
	}
	return snapshot
}

func (s *Service) captureIncidents(ctx context.Context, serviceID string, period domain.ReportPeriod) domain.IncidentSnapshot {
	snapshot := domain.IncidentSnapshot{
		BySeverity: map[string]int{},
		ByCategory: map[string]int{},
	}
	if s.sources.Incidents == nil {
		return snapshot
	}

	list, err := s.sources.Incidents.List(ctx, incidents.Filter{
		ServiceID:      &serviceID,
		DetectedFrom:   &period.Start,
		DetectedBefore: &period.End,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("incident snapshot degraded to defaults",
			"service_id", serviceID, "error", err)
		return snapshot
	}

	var containHours, resolveHours float64
	var contained, resolved int
	snapshot.Total = len(list)
	for _, incident := range list {
		snapshot.BySeverity[string(incident.Severity)]++
		snapshot.ByCategory[string(incident.Category)]++
		if incident.Impact.DataExfiltrated {
			snapshot.DataExfiltration++
		}
		if incident.Impact.ServiceDisrupted {
			snapshot.ServiceDisruptions++
		}
		if incident.Milestones.ContainedAt != nil {
			containHours += incident.Milestones.ContainedAt.Sub(incident.DetectedAt).Hours()
			contained++
		}
		if incident.Milestones.RecoveredAt != nil {
			resolveHours += incident.Milestones.RecoveredAt.Sub(incident.DetectedAt).Hours()
			resolved++
		}
	}
	if contained > 0 {
		snapshot.AvgContainHours = containHours / float64(contained)
	}
	if resolved > 0 {
		snapshot.AvgResolveHours = resolveHours / float64(resolved)
	}
	return snapshot
}

func (s *Service) captureChanges(ctx context.Context, serviceID string, period domain.ReportPeriod) domain.ChangeSnapshot {
	snapshot := domain.ChangeSnapshot{
		ByImpact: map[string]int{},
		ByStatus: map[string]int{},
		ByType:   map[string]int{},
	}
	if s.sources.Changes == nil {
		return snapshot
	}

	list, err := s.sources.Changes.List(ctx, changes.Filter{
		ServiceID:       &serviceID,
		RequestedFrom:   &period.Start,
		RequestedBefore: &period.End,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("change snapshot degraded to defaults",
			"service_id", serviceID, "error", err)
		return snapshot
	}

	snapshot.Total = len(list)
	for _, change := range list {
		snapshot.ByStatus[string(change.Status)]++
		snapshot.ByType[string(change.Type)]++
		if change.Impact != nil {
			snapshot.ByImpact[string(change.Impact.Level)]++
		}
		if change.Status != domain.ChangeDraft && change.Status != domain.ChangeApproved &&
			!change.Status.IsTerminal() {
			snapshot.PendingApproval++
		}
	}
	return snapshot
}

func (s *Service) captureValidation(ctx context.Context, serviceID string) domain.ValidationSnapshot {
	var snapshot domain.ValidationSnapshot
	if s.sources.Rules == nil {
		return snapshot
	}

	rules, err := s.sources.Rules.ListRules(ctx, validation.RuleFilter{ServiceID: &serviceID})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("validation snapshot degraded to defaults",
			"service_id", serviceID, "error", err)
		return snapshot
	}

	covered := map[string]struct{}{}
	for _, rule := range rules {
		switch rule.Status {
		case domain.RuleStatusActive:
			snapshot.ActiveRules++
		case domain.RuleStatusError:
			snapshot.RulesInError++
		}
		snapshot.Executions += int(rule.ExecutionCount)
		snapshot.Passed += int(rule.PassCount)
		if rule.Status != domain.RuleStatusDeprecated {
			for _, ref := range rule.IndicatorRefs {
				covered[ref] = struct{}{}
			}
		}
	}
	if snapshot.Executions > 0 {
		snapshot.PassRate = float64(snapshot.Passed) / float64(snapshot.Executions)
	}

	if s.sources.Indicators != nil {
		records, err := s.sources.Indicators.ListByService(ctx, serviceID, indicators.Filter{})
		if err == nil && len(records) > 0 {
			var coveredCount int
			for _, record := range records {
				if _, ok := covered[record.Reference]; ok {
					coveredCount++
				}
			}
			snapshot.CoveragePercent = 100 * float64(coveredCount) / float64(len(records))
		}
	}
	return snapshot
}

// summaryDigest computes the content digest sealed into a submitted report.
func summaryDigest(report *domain.AuthorizationReport) (string, error) {
	payload, err := json.Marshal(struct {
		ServiceID       string                       `json:"service_id"`
		Period          domain.ReportPeriod          `json:"period"`
		Indicators      domain.IndicatorSnapshot     `json:"indicators"`
		Vulnerabilities domain.VulnerabilitySnapshot `json:"vulnerabilities"`
		Incidents       domain.IncidentSnapshot      `json:"incidents"`
		Changes         domain.ChangeSnapshot        `json:"changes"`
		Validation      domain.ValidationSnapshot    `json:"validation"`
		Narrative       string                       `json:"narrative"`
		Attestation     *domain.Attestation          `json:"attestation"`
	}{
		ServiceID:       report.ServiceID,
		Period:          report.Period,
		Indicators:      report.Indicators,
		Vulnerabilities: report.Vulnerabilities,
		Incidents:       report.Incidents,
		Changes:         report.Changes,
		Validation:      report.Validation,
		Narrative:       report.Narrative,
		Attestation:     report.Attestation,
	})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
