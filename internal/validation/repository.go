package validation

import (
	"context"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository defines the interface for check rule and execution data operations.
type Repository interface {
	CreateRule(ctx context.Context, rule *domain.CheckDefinition) error
	GetRule(ctx context.Context, id string) (*domain.CheckDefinition, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]domain.CheckDefinition, error)

	// ListDue returns rules whose next-due time has passed, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.CheckDefinition, error)

	// UpdateRule overwrites the mutable fields of a rule.
	UpdateRule(ctx context.Context, rule *domain.CheckDefinition) error

	// MutateRule loads the rule under an exclusive row lock, applies fn to it
	// and persists the result in the same transaction. Two overlapping
	// executions of the same rule serialize here.
	MutateRule(ctx context.Context, id string, fn func(rule *domain.CheckDefinition) error) (*domain.CheckDefinition, error)

	// RecordOutcome appends an execution record and applies fn to its rule
	// under the same row lock and transaction, so the history row and the
	// derived counters land together or not at all.
	RecordOutcome(ctx context.Context, execution *domain.Execution, fn func(rule *domain.CheckDefinition) error) (*domain.CheckDefinition, error)

	ListExecutions(ctx context.Context, checkID string, limit int) ([]domain.Execution, error)

	// CountErrored returns the number of rules currently in error status.
	CountErrored(ctx context.Context) (int, error)

	// CountDue returns how many schedulable rules are past due at now.
	CountDue(ctx context.Context, now time.Time) (int, error)
}

// RuleFilter restricts rule listings.
type RuleFilter struct {
	ServiceID *string
	Status    *domain.RuleStatus
	Kind      *domain.CheckKind
}
