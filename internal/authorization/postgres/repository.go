// Package postgres provides PostgreSQL implementation of the authorization repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/authorization"
	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository implements the authorization.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const authorizationColumns = `
	id, service_id, service_name, status, impact_tier,
	authorized_at, expires_at, next_assessment_at,
	total_indicators, compliant_indicators, automated_indicators,
	compliance_percent, automation_percent, recounted_at,
	version, created_at, updated_at
`

// Create inserts a new service authorization record.
func (r *Repository) Create(ctx context.Context, auth *domain.ServiceAuthorization) error {
	query := `
		INSERT INTO service_authorizations (service_id, service_name, status, impact_tier)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		auth.ServiceID,
		auth.ServiceName,
		auth.Status,
		auth.ImpactTier,
	).Scan(&auth.ID, &auth.Version, &auth.CreatedAt, &auth.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return authorization.ErrDuplicateAuthorization
		}
		return fmt.Errorf("create service authorization: %w", err)
	}
	return nil
}

// GetByServiceID retrieves a service authorization record.
func (r *Repository) GetByServiceID(ctx context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM service_authorizations WHERE service_id = $1`

	auth, err := r.scanOne(r.db.QueryRow(ctx, query, serviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("service_authorization", serviceID)
		}
		return nil, fmt.Errorf("get service authorization: %w", err)
	}
	return auth, nil
}

// List retrieves all service authorization records.
func (r *Repository) List(ctx context.Context) ([]domain.ServiceAuthorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM service_authorizations ORDER BY service_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list service authorizations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ServiceAuthorization, 0)
	for rows.Next() {
		auth, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service authorization: %w", err)
		}
		result = append(result, *auth)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service authorizations: %w", err)
	}

	return result, nil
}

// Update persists the aggregate with an optimistic version check.
func (r *Repository) Update(ctx context.Context, auth *domain.ServiceAuthorization) error {
	query := `
		UPDATE service_authorizations
		SET status = $3, impact_tier = $4, authorized_at = $5, expires_at = $6,
			next_assessment_at = $7, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		auth.ID,
		auth.Version,
		auth.Status,
		auth.ImpactTier,
		auth.AuthorizedAt,
		auth.ExpiresAt,
		auth.NextAssessmentAt,
	).Scan(&auth.Version, &auth.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM service_authorizations WHERE id = $1)`, auth.ID,
			).Scan(&exists)
			if checkErr == nil && exists {
				return domain.NewConflictError("service_authorization", auth.ID)
			}
			return domain.NewNotFoundError("service_authorization", auth.ID)
		}
		return fmt.Errorf("update service authorization: %w", err)
	}
	return nil
}

// UpdateMetrics overwrites the denormalized counters without touching the
// version, so counter refresh never invalidates a concurrent status update.
func (r *Repository) UpdateMetrics(ctx context.Context, serviceID string, m domain.ComplianceMetrics) error {
	query := `
		UPDATE service_authorizations
		SET total_indicators = $2, compliant_indicators = $3, automated_indicators = $4,
			compliance_percent = $5, automation_percent = $6, recounted_at = $7,
			updated_at = NOW()
		WHERE service_id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		serviceID,
		m.TotalIndicators,
		m.CompliantIndicators,
		m.AutomatedIndicators,
		m.CompliancePercent,
		m.AutomationPercent,
		m.RecountedAt,
	)
	if err != nil {
		return fmt.Errorf("update compliance metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("service_authorization", serviceID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*domain.ServiceAuthorization, error) {
	var auth domain.ServiceAuthorization
	err := row.Scan(
		&auth.ID,
		&auth.ServiceID,
		&auth.ServiceName,
		&auth.Status,
		&auth.ImpactTier,
		&auth.AuthorizedAt,
		&auth.ExpiresAt,
		&auth.NextAssessmentAt,
		&auth.Metrics.TotalIndicators,
		&auth.Metrics.CompliantIndicators,
		&auth.Metrics.AutomatedIndicators,
		&auth.Metrics.CompliancePercent,
		&auth.Metrics.AutomationPercent,
		&auth.Metrics.RecountedAt,
		&auth.Version,
		&auth.CreatedAt,
		&auth.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &auth, nil
}
