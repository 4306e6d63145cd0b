// Package postgres provides PostgreSQL implementation of the reports repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/reports"
)

// Repository implements the reports.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const reportColumns = `
	id, service_id, year, quarter, period_start, period_end, status,
	indicators, vulnerabilities, incidents, changes, validation,
	narrative, attestation, digest, submitted_at, created_at, updated_at
`

// Create inserts a new draft report.
func (r *Repository) Create(ctx context.Context, report *domain.AuthorizationReport) error {
	query := `
		INSERT INTO reports (
			service_id, year, quarter, period_start, period_end, status,
			indicators, vulnerabilities, incidents, changes, validation, narrative
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		report.ServiceID,
		report.Period.Year,
		report.Period.Quarter,
		report.Period.Start,
		report.Period.End,
		report.Status,
		report.Indicators,
		report.Vulnerabilities,
		report.Incidents,
		report.Changes,
		report.Validation,
		report.Narrative,
	).Scan(&report.ID, &report.CreatedAt, &report.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return reports.ErrDuplicateReport
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID retrieves a report by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.AuthorizationReport, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	report, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("report", id)
		}
		return nil, fmt.Errorf("get report by id: %w", err)
	}
	return report, nil
}

// ListByService retrieves all reports for a service, newest period first.
func (r *Repository) ListByService(ctx context.Context, serviceID string) ([]domain.AuthorizationReport, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE service_id = $1 ORDER BY year DESC, quarter DESC`

	rows, err := r.db.Query(ctx, query, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AuthorizationReport, 0)
	for rows.Next() {
		report, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		result = append(result, *report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}

	return result, nil
}

// Update overwrites the mutable fields of a report.
func (r *Repository) Update(ctx context.Context, report *domain.AuthorizationReport) error {
	query := `
		UPDATE reports
		SET status = $2, indicators = $3, vulnerabilities = $4, incidents = $5,
			changes = $6, validation = $7, narrative = $8, attestation = $9,
			digest = $10, submitted_at = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		report.ID,
		report.Status,
		report.Indicators,
		report.Vulnerabilities,
		report.Incidents,
		report.Changes,
		report.Validation,
		report.Narrative,
		report.Attestation,
		report.Digest,
		report.SubmittedAt,
	).Scan(&report.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("report", report.ID)
		}
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// AddReviewComment appends a reviewer annotation.
func (r *Repository) AddReviewComment(ctx context.Context, reportID string, comment *domain.ReviewComment) error {
	query := `
		INSERT INTO report_review_comments (report_id, author, comment, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		reportID,
		comment.Author,
		comment.Comment,
		comment.CreatedAt,
	).Scan(&comment.ID)
	if err != nil {
		return fmt.Errorf("add review comment: %w", err)
	}
	return nil
}

// ListReviewComments retrieves a report's annotations in append order.
func (r *Repository) ListReviewComments(ctx context.Context, reportID string) ([]domain.ReviewComment, error) {
	query := `
		SELECT id, author, comment, created_at
		FROM report_review_comments
		WHERE report_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("list review comments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReviewComment, 0)
	for rows.Next() {
		var comment domain.ReviewComment
		if err := rows.Scan(&comment.ID, &comment.Author, &comment.Comment, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review comment: %w", err)
		}
		result = append(result, comment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review comments: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*domain.AuthorizationReport, error) {
	var report domain.AuthorizationReport
	err := row.Scan(
		&report.ID,
		&report.ServiceID,
		&report.Period.Year,
		&report.Period.Quarter,
		&report.Period.Start,
		&report.Period.End,
		&report.Status,
		&report.Indicators,
		&report.Vulnerabilities,
		&report.Incidents,
		&report.Changes,
		&report.Validation,
		&report.Narrative,
		&report.Attestation,
		&report.Digest,
		&report.SubmittedAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &report, nil
}
