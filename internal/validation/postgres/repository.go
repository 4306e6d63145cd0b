// Package postgres provides PostgreSQL implementation of the validation repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/validation"
)

// Repository implements the validation.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `
	id, service_id, name, kind, indicator_refs, frequency, config,
	pass_criteria, status, next_due_at, last_executed_at, last_result,
	last_error, consecutive_failures, execution_count, pass_count,
	created_at, updated_at
`

// CreateRule inserts a new check rule.
func (r *Repository) CreateRule(ctx context.Context, rule *domain.CheckDefinition) error {
	query := `
		INSERT INTO check_rules (
			service_id, name, kind, indicator_refs, frequency, config,
			pass_criteria, status, next_due_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		rule.ServiceID,
		rule.Name,
		rule.Kind,
		rule.IndicatorRefs,
		rule.Frequency,
		rule.Config,
		rule.PassCriteria,
		rule.Status,
		rule.NextDueAt,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return validation.ErrDuplicateRule
		}
		return fmt.Errorf("create check rule: %w", err)
	}
	return nil
}

// GetRule retrieves a check rule by ID.
func (r *Repository) GetRule(ctx context.Context, id string) (*domain.CheckDefinition, error) {
	query := `SELECT ` + ruleColumns + ` FROM check_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("check_rule", id)
		}
		return nil, fmt.Errorf("get check rule: %w", err)
	}
	return rule, nil
}

// ListRules retrieves check rules matching the filter.
func (r *Repository) ListRules(ctx context.Context, filter validation.RuleFilter) ([]domain.CheckDefinition, error) {
	query := `SELECT ` + ruleColumns + ` FROM check_rules WHERE 1=1`
	args := []any{}

	if filter.ServiceID != nil {
		args = append(args, *filter.ServiceID)
		query += fmt.Sprintf(" AND service_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	query += " ORDER BY created_at"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListDue retrieves rules whose next-due time has passed, oldest first.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.CheckDefinition, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM check_rules
		WHERE status IN ('active', 'error')
			AND next_due_at IS NOT NULL
			AND next_due_at <= $1
		ORDER BY next_due_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// UpdateRule overwrites the mutable fields of a rule.
func (r *Repository) UpdateRule(ctx context.Context, rule *domain.CheckDefinition) error {
	return updateRule(ctx, r.db, rule)
}

// MutateRule loads the rule under FOR UPDATE, applies fn and persists the
// result in one transaction. Overlapping executions of the same rule
// serialize on the row lock.
func (r *Repository) MutateRule(ctx context.Context, id string, fn func(rule *domain.CheckDefinition) error) (*domain.CheckDefinition, error) {
	var result *domain.CheckDefinition

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `SELECT ` + ruleColumns + ` FROM check_rules WHERE id = $1 FOR UPDATE`

		rule, err := scanRule(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError("check_rule", id)
			}
			return fmt.Errorf("lock check rule: %w", err)
		}

		if err := fn(rule); err != nil {
			return err
		}

		if err := updateRule(ctx, tx, rule); err != nil {
			return err
		}
		result = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordOutcome appends an execution record and applies fn to its rule under
// the same FOR UPDATE lock. A failed history insert rolls the rule back, so
// counters never advance without a matching execution row.
func (r *Repository) RecordOutcome(ctx context.Context, execution *domain.Execution, fn func(rule *domain.CheckDefinition) error) (*domain.CheckDefinition, error) {
	var result *domain.CheckDefinition

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `SELECT ` + ruleColumns + ` FROM check_rules WHERE id = $1 FOR UPDATE`

		rule, err := scanRule(tx.QueryRow(ctx, query, execution.CheckID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError("check_rule", execution.CheckID)
			}
			return fmt.Errorf("lock check rule: %w", err)
		}

		if err := fn(rule); err != nil {
			return err
		}
		if err := updateRule(ctx, tx, rule); err != nil {
			return err
		}
		if err := createExecution(ctx, tx, execution); err != nil {
			return err
		}
		result = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func createExecution(ctx context.Context, db execer, execution *domain.Execution) error {
	query := `
		INSERT INTO check_executions (
			check_id, executed_at, duration_ns, status, passed, detail,
			error, findings, evidence_ids
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := db.QueryRow(ctx, query,
		execution.CheckID,
		execution.ExecutedAt,
		int64(execution.Duration),
		execution.Status,
		execution.Passed,
		execution.Detail,
		execution.Error,
		execution.Findings,
		execution.EvidenceIDs,
	).Scan(&execution.ID)

	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// CountErrored returns the number of rules currently in error status.
func (r *Repository) CountErrored(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM check_rules WHERE status = 'error'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count errored rules: %w", err)
	}
	return count, nil
}

// CountDue returns how many schedulable rules are past due at now.
func (r *Repository) CountDue(ctx context.Context, now time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM check_rules
		WHERE status IN ('active', 'error')
			AND next_due_at IS NOT NULL
			AND next_due_at <= $1
	`
	var count int
	if err := r.db.QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count due rules: %w", err)
	}
	return count, nil
}

// ListExecutions retrieves a rule's most recent executions.
func (r *Repository) ListExecutions(ctx context.Context, checkID string, limit int) ([]domain.Execution, error) {
	query := `
		SELECT id, check_id, executed_at, duration_ns, status, passed,
			detail, error, findings, evidence_ids
		FROM check_executions
		WHERE check_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Execution, 0)
	for rows.Next() {
		var e domain.Execution
		var durationNS int64
		err := rows.Scan(
			&e.ID,
			&e.CheckID,
			&e.ExecutedAt,
			&durationNS,
			&e.Status,
			&e.Passed,
			&e.Detail,
			&e.Error,
			&e.Findings,
			&e.EvidenceIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Duration = time.Duration(durationNS)
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}

	return result, nil
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateRule(ctx context.Context, db execer, rule *domain.CheckDefinition) error {
	query := `
		UPDATE check_rules
		SET name = $2, indicator_refs = $3, frequency = $4, config = $5,
			pass_criteria = $6, status = $7, next_due_at = $8,
			last_executed_at = $9, last_result = $10, last_error = $11,
			consecutive_failures = $12, execution_count = $13,
			pass_count = $14, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.IndicatorRefs,
		rule.Frequency,
		rule.Config,
		rule.PassCriteria,
		rule.Status,
		rule.NextDueAt,
		rule.LastExecutedAt,
		rule.LastResult,
		rule.LastError,
		rule.ConsecutiveFailures,
		rule.ExecutionCount,
		rule.PassCount,
	).Scan(&rule.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("check_rule", rule.ID)
		}
		return fmt.Errorf("update check rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.CheckDefinition, error) {
	var rule domain.CheckDefinition
	err := row.Scan(
		&rule.ID,
		&rule.ServiceID,
		&rule.Name,
		&rule.Kind,
		&rule.IndicatorRefs,
		&rule.Frequency,
		&rule.Config,
		&rule.PassCriteria,
		&rule.Status,
		&rule.NextDueAt,
		&rule.LastExecutedAt,
		&rule.LastResult,
		&rule.LastError,
		&rule.ConsecutiveFailures,
		&rule.ExecutionCount,
		&rule.PassCount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func collectRules(rows pgx.Rows) ([]domain.CheckDefinition, error) {
	result := make([]domain.CheckDefinition, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check rule: %w", err)
		}
		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check rules: %w", err)
	}

	return result, nil
}
