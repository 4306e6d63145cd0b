// Package postgres provides PostgreSQL implementation of the changes repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/changes"
	"github.com/bracken-sec/conmon/internal/domain"
)

// Repository implements the changes.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const changeColumns = `
	id, service_id, title, description, type, status, requested_at,
	planned_at, implemented_at, impact, notification, scn_submitted_at,
	scn_acknowledged_at, scn_case_no, security_review_required,
	security_review_done, approved_by, approved_at, version, created_by,
	created_at, updated_at
`

// Create inserts a new change request.
func (r *Repository) Create(ctx context.Context, change *domain.ChangeRequest) error {
	query := `
		INSERT INTO change_requests (
			service_id, title, description, type, status, requested_at,
			planned_at, security_review_required, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		change.ServiceID,
		change.Title,
		change.Description,
		change.Type,
		change.Status,
		change.RequestedAt,
		change.PlannedAt,
		change.SecurityReviewRequired,
		change.CreatedBy,
	).Scan(&change.ID, &change.Version, &change.CreatedAt, &change.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// GetByID retrieves a change request by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	query := `SELECT ` + changeColumns + ` FROM change_requests WHERE id = $1`

	change, err := scanChange(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("change_request", id)
		}
		return nil, fmt.Errorf("get change request: %w", err)
	}
	return change, nil
}

// List retrieves change requests matching the filter.
func (r *Repository) List(ctx context.Context, filter changes.Filter) ([]domain.ChangeRequest, error) {
	query := `SELECT ` + changeColumns + ` FROM change_requests WHERE 1=1`
	args := []any{}

	if filter.ServiceID != nil {
		args = append(args, *filter.ServiceID)
		query += fmt.Sprintf(" AND service_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.RequestedFrom != nil {
		args = append(args, *filter.RequestedFrom)
		query += fmt.Sprintf(" AND requested_at >= $%d", len(args))
	}
	if filter.RequestedBefore != nil {
		args = append(args, *filter.RequestedBefore)
		query += fmt.Sprintf(" AND requested_at < $%d", len(args))
	}

	query += " ORDER BY requested_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ChangeRequest, 0)
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		result = append(result, *change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}

	return result, nil
}

// Update persists the aggregate under the optimistic version check.
func (r *Repository) Update(ctx context.Context, change *domain.ChangeRequest) error {
	query := `
		UPDATE change_requests
		SET title = $3, description = $4, type = $5, status = $6,
			planned_at = $7, implemented_at = $8, impact = $9,
			notification = $10, scn_submitted_at = $11,
			scn_acknowledged_at = $12, scn_case_no = $13,
			security_review_required = $14, security_review_done = $15,
			approved_by = $16, approved_at = $17,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		change.ID,
		change.Version,
		change.Title,
		change.Description,
		change.Type,
		change.Status,
		change.PlannedAt,
		change.ImplementedAt,
		change.Impact,
		change.Notification,
		change.SCNSubmittedAt,
		change.SCNAcknowledgedAt,
		change.SCNCaseNo,
		change.SecurityReviewRequired,
		change.SecurityReviewDone,
		change.ApprovedBy,
		change.ApprovedAt,
	).Scan(&change.Version, &change.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM change_requests WHERE id = $1)`, change.ID,
			).Scan(&exists); checkErr == nil && exists {
				return domain.NewConflictError("change_request", change.ID)
			}
			return domain.NewNotFoundError("change_request", change.ID)
		}
		return fmt.Errorf("update change request: %w", err)
	}
	return nil
}

// AppendAudit appends one audit trail entry.
func (r *Repository) AppendAudit(ctx context.Context, changeID string, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO change_audit (
			change_id, event_kind, description, detail, status, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		changeID,
		entry.EventKind,
		entry.Description,
		entry.Detail,
		entry.Status,
		entry.CreatedBy,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit retrieves a change request's audit trail, oldest first.
func (r *Repository) ListAudit(ctx context.Context, changeID string) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, event_kind, description, detail, status, created_by, created_at
		FROM change_audit
		WHERE change_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, changeID)
	if err != nil {
		return nil, fmt.Errorf("list audit trail: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var entry domain.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.EventKind,
			&entry.Description,
			&entry.Detail,
			&entry.Status,
			&entry.CreatedBy,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit trail: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (*domain.ChangeRequest, error) {
	var change domain.ChangeRequest
	err := row.Scan(
		&change.ID,
		&change.ServiceID,
		&change.Title,
		&change.Description,
		&change.Type,
		&change.Status,
		&change.RequestedAt,
		&change.PlannedAt,
		&change.ImplementedAt,
		&change.Impact,
		&change.Notification,
		&change.SCNSubmittedAt,
		&change.SCNAcknowledgedAt,
		&change.SCNCaseNo,
		&change.SecurityReviewRequired,
		&change.SecurityReviewDone,
		&change.ApprovedBy,
		&change.ApprovedAt,
		&change.Version,
		&change.CreatedBy,
		&change.CreatedAt,
		&change.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &change, nil
}
