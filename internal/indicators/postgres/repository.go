// Package postgres provides PostgreSQL implementation of the indicators repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/indicators"
)

// Repository implements the indicators.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const indicatorColumns = `
	id, service_id, reference, category, name, description,
	applicable_low, applicable_moderate, applicable_high,
	implementation_status, compliance_status, validation_mode,
	automation_percent, last_validated_at, last_validation_passed,
	evidence_ids, remediation_plan_id, created_at, updated_at
`

// Create inserts a new indicator record.
func (r *Repository) Create(ctx context.Context, ind *domain.Indicator) error {
	query := `
		INSERT INTO indicators (
			service_id, reference, category, name, description,
			applicable_low, applicable_moderate, applicable_high,
			implementation_status, compliance_status, validation_mode,
			automation_percent, evidence_ids
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		ind.ServiceID,
		ind.Reference,
		ind.Category,
		ind.Name,
		ind.Description,
		ind.Applicability.Low,
		ind.Applicability.Moderate,
		ind.Applicability.High,
		ind.ImplementationStatus,
		ind.ComplianceStatus,
		ind.ValidationMode,
		ind.AutomationPercent,
		ind.EvidenceIDs,
	).Scan(&ind.ID, &ind.CreatedAt, &ind.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return indicators.ErrDuplicateIndicator
		}
		return fmt.Errorf("create indicator: %w", err)
	}
	return nil
}

// GetByID retrieves an indicator by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Indicator, error) {
	query := `SELECT ` + indicatorColumns + ` FROM indicators WHERE id = $1`

	ind, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("indicator", id)
		}
		return nil, fmt.Errorf("get indicator by id: %w", err)
	}
	return ind, nil
}

// GetByReference retrieves an indicator by (service, reference).
func (r *Repository) GetByReference(ctx context.Context, serviceID, reference string) (*domain.Indicator, error) {
	query := `SELECT ` + indicatorColumns + ` FROM indicators WHERE service_id = $1 AND reference = $2`

	ind, err := r.scanOne(r.db.QueryRow(ctx, query, serviceID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("indicator", reference)
		}
		return nil, fmt.Errorf("get indicator by reference: %w", err)
	}
	return ind, nil
}

// ListByService retrieves all indicator records for a service.
func (r *Repository) ListByService(ctx context.Context, serviceID string, filter indicators.Filter) ([]domain.Indicator, error) {
	query := `SELECT ` + indicatorColumns + ` FROM indicators WHERE service_id = $1`
	args := []any{serviceID}

	if filter.Category != nil {
		args = append(args, *filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.ComplianceStatus != nil {
		args = append(args, *filter.ComplianceStatus)
		query += fmt.Sprintf(" AND compliance_status = $%d", len(args))
	}
	if filter.ValidationMode != nil {
		args = append(args, *filter.ValidationMode)
		query += fmt.Sprintf(" AND validation_mode = $%d", len(args))
	}

	query += " ORDER BY reference"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Indicator, 0)
	for rows.Next() {
		ind, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		result = append(result, *ind)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicators: %w", err)
	}

	return result, nil
}

// Update overwrites the mutable fields of an indicator record.
func (r *Repository) Update(ctx context.Context, ind *domain.Indicator) error {
	query := `
		UPDATE indicators
		SET implementation_status = $2, compliance_status = $3, validation_mode = $4,
			automation_percent = $5, last_validated_at = $6, last_validation_passed = $7,
			evidence_ids = $8, remediation_plan_id = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		ind.ID,
		ind.ImplementationStatus,
		ind.ComplianceStatus,
		ind.ValidationMode,
		ind.AutomationPercent,
		ind.LastValidatedAt,
		ind.LastValidationPassed,
		ind.EvidenceIDs,
		ind.RemediationPlanID,
	).Scan(&ind.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("indicator", ind.ID)
		}
		return fmt.Errorf("update indicator: %w", err)
	}
	return nil
}

// ApplyValidationResult stamps a validation outcome on every automated or
// hybrid indicator of the service matching one of the references.
func (r *Repository) ApplyValidationResult(ctx context.Context, serviceID string, references []string, result indicators.ValidationResult) (int, error) {
	query := `
		UPDATE indicators
		SET last_validated_at = $3,
			last_validation_passed = $4,
			compliance_status = CASE WHEN $4 THEN 'compliant' ELSE 'non_compliant' END,
			updated_at = NOW()
		WHERE service_id = $1
			AND reference = ANY($2)
			AND validation_mode IN ('automated', 'hybrid')
			AND implementation_status != 'not_applicable'
	`
	tag, err := r.db.Exec(ctx, query, serviceID, references, result.ValidatedAt, result.Passed)
	if err != nil {
		return 0, fmt.Errorf("apply validation result: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*domain.Indicator, error) {
	var ind domain.Indicator
	err := row.Scan(
		&ind.ID,
		&ind.ServiceID,
		&ind.Reference,
		&ind.Category,
		&ind.Name,
		&ind.Description,
		&ind.Applicability.Low,
		&ind.Applicability.Moderate,
		&ind.Applicability.High,
		&ind.ImplementationStatus,
		&ind.ComplianceStatus,
		&ind.ValidationMode,
		&ind.AutomationPercent,
		&ind.LastValidatedAt,
		&ind.LastValidationPassed,
		&ind.EvidenceIDs,
		&ind.RemediationPlanID,
		&ind.CreatedAt,
		&ind.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ind, nil
}
