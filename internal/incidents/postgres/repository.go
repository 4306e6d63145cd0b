// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/incidents"
)

// Repository implements the incidents.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, service_id, title, description, category, severity, status,
	detected_at, detection_source, milestones, impact, attack,
	reporting_state, report_deadline, report_case_no, related_check_ids,
	version, created_by, created_at, updated_at
`

// Create inserts a new incident.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			service_id, title, description, category, severity, status,
			detected_at, detection_source, milestones, impact, attack,
			reporting_state, report_deadline, report_case_no,
			related_check_ids, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		incident.ServiceID,
		incident.Title,
		incident.Description,
		incident.Category,
		incident.Severity,
		incident.Status,
		incident.DetectedAt,
		incident.DetectionSource,
		incident.Milestones,
		incident.Impact,
		incident.Attack,
		incident.Reporting,
		incident.ReportDeadline,
		incident.ReportCaseNo,
		incident.RelatedCheckIDs,
		incident.CreatedBy,
	).Scan(&incident.ID, &incident.Version, &incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetByID retrieves an incident by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("incident", id)
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// List retrieves incidents matching the filter.
func (r *Repository) List(ctx context.Context, filter incidents.Filter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}

	if filter.ServiceID != nil {
		args = append(args, *filter.ServiceID)
		query += fmt.Sprintf(" AND service_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.DetectedFrom != nil {
		args = append(args, *filter.DetectedFrom)
		query += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}
	if filter.DetectedBefore != nil {
		args = append(args, *filter.DetectedBefore)
		query += fmt.Sprintf(" AND detected_at < $%d", len(args))
	}

	query += " ORDER BY detected_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, *incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return result, nil
}

// Update persists the aggregate. The version check rejects concurrent
// transitions: the row is only written when the stored version still matches
// the one the caller loaded.
func (r *Repository) Update(ctx context.Context, incident *domain.Incident) error {
	query := `
		UPDATE incidents
		SET title = $3, description = $4, category = $5, severity = $6,
			status = $7, milestones = $8, impact = $9, attack = $10,
			reporting_state = $11, report_deadline = $12,
			report_case_no = $13, related_check_ids = $14,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		incident.ID,
		incident.Version,
		incident.Title,
		incident.Description,
		incident.Category,
		incident.Severity,
		incident.Status,
		incident.Milestones,
		incident.Impact,
		incident.Attack,
		incident.Reporting,
		incident.ReportDeadline,
		incident.ReportCaseNo,
		incident.RelatedCheckIDs,
	).Scan(&incident.Version, &incident.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, incident.ID,
			).Scan(&exists); checkErr == nil && exists {
				return domain.NewConflictError("incident", incident.ID)
			}
			return domain.NewNotFoundError("incident", incident.ID)
		}
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// AppendTimeline appends one timeline entry.
func (r *Repository) AppendTimeline(ctx context.Context, incidentID string, entry *domain.TimelineEntry) error {
	query := `
		INSERT INTO incident_timeline (
			incident_id, event_kind, description, detail, status, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		incidentID,
		entry.EventKind,
		entry.Description,
		entry.Detail,
		entry.Status,
		entry.CreatedBy,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}

// ListTimeline retrieves an incident's timeline, oldest first.
func (r *Repository) ListTimeline(ctx context.Context, incidentID string) ([]domain.TimelineEntry, error) {
	query := `
		SELECT id, event_kind, description, detail, status, created_by, created_at
		FROM incident_timeline
		WHERE incident_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TimelineEntry, 0)
	for rows.Next() {
		var entry domain.TimelineEntry
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
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.ServiceID,
		&incident.Title,
		&incident.Description,
		&incident.Category,
		&incident.Severity,
		&incident.Status,
		&incident.DetectedAt,
		&incident.DetectionSource,
		&incident.Milestones,
		&incident.Impact,
		&incident.Attack,
		&incident.Reporting,
		&incident.ReportDeadline,
		&incident.ReportCaseNo,
		&incident.RelatedCheckIDs,
		&incident.Version,
		&incident.CreatedBy,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}
