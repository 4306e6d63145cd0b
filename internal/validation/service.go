// Package validation implements the scheduler-side rule catalogue: automated
// check definitions, their execution history and the status machine derived
// from it.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
	"github.com/bracken-sec/conmon/internal/sink"
)

// IndicatorStamper propagates validation outcomes into the indicator ledger.
type IndicatorStamper interface {
	ApplyValidationResult(ctx context.Context, serviceID string, references []string, passed bool, validatedAt time.Time) error
}

// Service implements check rule business logic.
type Service struct {
	repo   Repository
	ledger IndicatorStamper
	sink   sink.Publisher
}

// NewService creates a validation service. The ledger may be nil; validation
// outcomes are then not propagated to indicators.
func NewService(repo Repository, ledger IndicatorStamper, publisher sink.Publisher) *Service {
	if publisher == nil {
		publisher = sink.NopPublisher{}
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		sink:   publisher,
	}
}

// CreateRuleInput holds data for creating a check rule.
type CreateRuleInput struct {
	ServiceID     *string
	Name          string
	Kind          domain.CheckKind
	IndicatorRefs []string
	Frequency     domain.CheckFrequency
	Config        domain.CheckConfig
	PassCriteria  string
}

// CreateRule records a new check rule in draft status.
func (s *Service) CreateRule(ctx context.Context, input CreateRuleInput) (*domain.CheckDefinition, error) {
	if input.Name == "" {
		return nil, domain.NewValidationError("name", "must not be empty")
	}
	if !input.Kind.IsValid() {
		return nil, domain.NewValidationError("kind", "unknown value "+string(input.Kind))
	}
	if !input.Frequency.IsValid() {
		return nil, domain.NewValidationError("frequency", "unknown value "+string(input.Frequency))
	}
	if err := input.Config.ValidateForKind(input.Kind); err != nil {
		return nil, err
	}

	rule := &domain.CheckDefinition{
		ServiceID:     input.ServiceID,
		Name:          input.Name,
		Kind:          input.Kind,
		IndicatorRefs: input.IndicatorRefs,
		Frequency:     input.Frequency,
		Config:        input.Config,
		PassCriteria:  input.PassCriteria,
		Status:        domain.RuleStatusDraft,
	}

	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// Activate transitions a rule from draft or paused to active and computes its
// first due time from the frequency. On-demand rules get no due time and only
// run on explicit trigger.
func (s *Service) Activate(ctx context.Context, id string) (*domain.CheckDefinition, error) {
	rule, err := s.repo.MutateRule(ctx, id, func(rule *domain.CheckDefinition) error {
		if rule.Status != domain.RuleStatusDraft && rule.Status != domain.RuleStatusPaused {
			return domain.NewPreconditionError("check_rule", id, "activate",
				"only draft or paused rules can be activated, current status "+string(rule.Status))
		}
		rule.Status = domain.RuleStatusActive
		rule.NextDueAt = nextDue(rule.Frequency, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Pause stops scheduling a rule. Executions already in flight still record
// their outcome.
func (s *Service) Pause(ctx context.Context, id string) (*domain.CheckDefinition, error) {
	return s.repo.MutateRule(ctx, id, func(rule *domain.CheckDefinition) error {
		if rule.Status != domain.RuleStatusActive && rule.Status != domain.RuleStatusError {
			return domain.NewPreconditionError("check_rule", id, "pause",
				"only active or errored rules can be paused, current status "+string(rule.Status))
		}
		rule.Status = domain.RuleStatusPaused
		return nil
	})
}

// Deprecate permanently retires a rule from scheduling.
func (s *Service) Deprecate(ctx context.Context, id string) (*domain.CheckDefinition, error) {
	return s.repo.MutateRule(ctx, id, func(rule *domain.CheckDefinition) error {
		if rule.Status == domain.RuleStatusDeprecated {
			return domain.NewPreconditionError("check_rule", id, "deprecate", "rule is already deprecated")
		}
		rule.Status = domain.RuleStatusDeprecated
		rule.NextDueAt = nil
		return nil
	})
}

// ExecutionInput holds the outcome of one check run.
type ExecutionInput struct {
	Passed      bool
	Detail      string
	Error       *string
	Duration    time.Duration
	Findings    []domain.Finding
	EvidenceIDs []string
}

// RecordExecution appends an execution record and folds the outcome into the
// rule's derived fields. Always legal while the rule exists: a paused or
// deprecated rule still records runs that were in flight when it changed
// status. Success resets the consecutive-failure count and recovers an
// errored rule to active; the third consecutive failure forces status to
// error. The next-due time is recomputed relative to now in both cases so an
// errored rule keeps retrying on its normal cadence. The history row and the
// rule's derived fields are persisted in one transaction.
func (s *Service) RecordExecution(ctx context.Context, id string, input ExecutionInput) (*domain.Execution, error) {
	now := time.Now().UTC()

	status := domain.ExecutionFailed
	if input.Passed {
		status = domain.ExecutionPassed
	} else if input.Error != nil {
		status = domain.ExecutionErrored
	}

	execution := &domain.Execution{
		CheckID:     id,
		ExecutedAt:  now,
		Duration:    input.Duration,
		Status:      status,
		Passed:      input.Passed,
		Detail:      input.Detail,
		Error:       input.Error,
		Findings:    input.Findings,
		EvidenceIDs: input.EvidenceIDs,
	}

	var enteredError bool
	rule, err := s.repo.RecordOutcome(ctx, execution, func(rule *domain.CheckDefinition) error {
		rule.ExecutionCount++
		rule.LastExecutedAt = &now
		result := string(status)
		rule.LastResult = &result

		if input.Passed {
			rule.PassCount++
			rule.ConsecutiveFailures = 0
			rule.LastError = nil
			if rule.Status == domain.RuleStatusError {
				rule.Status = domain.RuleStatusActive
			}
		} else {
			rule.ConsecutiveFailures++
			rule.LastError = input.Error
			if rule.ConsecutiveFailures >= domain.FailureThreshold && rule.Status != domain.RuleStatusError {
				rule.Status = domain.RuleStatusError
				enteredError = true
			}
		}

		// Missed runs skip forward instead of firing a backlog.
		if rule.Status == domain.RuleStatusDeprecated {
			rule.NextDueAt = nil
		} else {
			rule.NextDueAt = nextDue(rule.Frequency, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordExecutionOutcome(rule.Kind, status, input.Duration)

	if enteredError {
		s.sink.Publish(sink.Event{
			AggregateID: rule.ID,
			Kind:        sink.EventRuleErrored,
			OccurredAt:  now,
			Payload: map[string]any{
				"name":                 rule.Name,
				"consecutive_failures": rule.ConsecutiveFailures,
				"last_error":           rule.LastError,
			},
		})
	}

	s.stampLedger(ctx, rule, input.Passed, now)

	return execution, nil
}

// RecordSkipped appends a skipped execution record without touching the
// pass/fail counters. Used for manual-reminder rules, where a due run means
// "remind the assignee", not a validation outcome.
func (s *Service) RecordSkipped(ctx context.Context, id, detail string) (*domain.Execution, error) {
	now := time.Now().UTC()

	execution := &domain.Execution{
		CheckID:    id,
		ExecutedAt: now,
		Status:     domain.ExecutionSkipped,
		Detail:     detail,
	}

	rule, err := s.repo.RecordOutcome(ctx, execution, func(rule *domain.CheckDefinition) error {
		rule.LastExecutedAt = &now
		result := string(domain.ExecutionSkipped)
		rule.LastResult = &result
		if rule.Status == domain.RuleStatusDeprecated {
			rule.NextDueAt = nil
		} else {
			rule.NextDueAt = nextDue(rule.Frequency, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rule.Kind == domain.CheckKindManualReminder {
		payload := map[string]any{"name": rule.Name}
		if cfg := rule.Config.ManualReminder; cfg != nil {
			payload["assignee"] = cfg.Assignee
			payload["instructions"] = cfg.Instructions
		}
		s.sink.Publish(sink.Event{
			AggregateID: rule.ID,
			Kind:        sink.EventCheckReminder,
			OccurredAt:  now,
			Payload:     payload,
		})
	}

	return execution, nil
}

// GetRule retrieves a check rule by ID.
func (s *Service) GetRule(ctx context.Context, id string) (*domain.CheckDefinition, error) {
	return s.repo.GetRule(ctx, id)
}

// ListRules lists check rules.
func (s *Service) ListRules(ctx context.Context, filter RuleFilter) ([]domain.CheckDefinition, error) {
	return s.repo.ListRules(ctx, filter)
}

// ListExecutions lists a rule's most recent executions.
func (s *Service) ListExecutions(ctx context.Context, checkID string, limit int) ([]domain.Execution, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListExecutions(ctx, checkID, limit)
}

// stampLedger propagates the outcome to the owning service's indicators.
// Global rules have no owning service and are not propagated.
func (s *Service) stampLedger(ctx context.Context, rule *domain.CheckDefinition, passed bool, at time.Time) {
	if s.ledger == nil || rule.ServiceID == nil || len(rule.IndicatorRefs) == 0 {
		return
	}
	if err := s.ledger.ApplyValidationResult(ctx, *rule.ServiceID, rule.IndicatorRefs, passed, at); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to stamp indicators with validation result",
			"check_id", rule.ID,
			"service_id", *rule.ServiceID,
			"error", err,
		)
	}
}

// nextDue computes the next scheduled due time relative to now. On-demand
// frequencies have none.
func nextDue(frequency domain.CheckFrequency, now time.Time) *time.Time {
	interval, ok := frequency.Interval()
	if !ok {
		return nil
	}
	due := now.Add(interval)
	return &due
}
