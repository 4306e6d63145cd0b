package domain

import "time"

// IncidentStatus represents the lifecycle status of a security incident.
type IncidentStatus string

// Incident lifecycle statuses.
const (
	IncidentDetected       IncidentStatus = "detected"
	IncidentReported       IncidentStatus = "reported"
	IncidentAnalyzing      IncidentStatus = "analyzing"
	IncidentContained      IncidentStatus = "contained"
	IncidentEradicating    IncidentStatus = "eradicating"
	IncidentEradicated     IncidentStatus = "eradicated"
	IncidentRecovering     IncidentStatus = "recovering"
	IncidentRecovered      IncidentStatus = "recovered"
	IncidentLessonsLearned IncidentStatus = "lessons_learned"
	IncidentClosed         IncidentStatus = "closed"
)

// IsValid checks if the incident status is a known value.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentDetected, IncidentReported, IncidentAnalyzing, IncidentContained,
		IncidentEradicating, IncidentEradicated, IncidentRecovering, IncidentRecovered,
		IncidentLessonsLearned, IncidentClosed:
		return true
	}
	return false
}

// IncidentSeverity represents incident severity.
type IncidentSeverity string

// Incident severities.
const (
	SeverityCritical      IncidentSeverity = "critical"
	SeverityHigh          IncidentSeverity = "high"
	SeverityModerate      IncidentSeverity = "moderate"
	SeverityLow           IncidentSeverity = "low"
	SeverityInformational IncidentSeverity = "informational"
)

// IsValid checks if the severity is a known value.
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityModerate, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// ReportingDeadline returns the external-reporting deadline offset for the
// severity. The second return value is false for informational incidents,
// which carry no reporting obligation.
func (s IncidentSeverity) ReportingDeadline() (time.Duration, bool) {
	switch s {
	case SeverityCritical:
		return time.Hour, true
	case SeverityHigh:
		return 24 * time.Hour, true
	case SeverityModerate:
		return 72 * time.Hour, true
	case SeverityLow:
		return 168 * time.Hour, true
	}
	return 0, false
}

// IncidentCategory is the closed set of attack/failure categories.
type IncidentCategory string

// Incident categories.
const (
	CategoryUnauthorizedAccess IncidentCategory = "unauthorized_access"
	CategoryMalware            IncidentCategory = "malware"
	CategoryDenialOfService    IncidentCategory = "denial_of_service"
	CategoryDataExfiltration   IncidentCategory = "data_exfiltration"
	CategoryPhishing           IncidentCategory = "phishing"
	CategoryInsiderMisuse      IncidentCategory = "insider_misuse"
	CategorySupplyChain        IncidentCategory = "supply_chain"
	CategorySystemFailure      IncidentCategory = "system_failure"
	CategoryOther              IncidentCategory = "other"
)

// IsValid checks if the incident category is a known value.
func (c IncidentCategory) IsValid() bool {
	switch c {
	case CategoryUnauthorizedAccess, CategoryMalware, CategoryDenialOfService,
		CategoryDataExfiltration, CategoryPhishing, CategoryInsiderMisuse,
		CategorySupplyChain, CategorySystemFailure, CategoryOther:
		return true
	}
	return false
}

// ReportingState is the external-reporting sub-state of an incident.
type ReportingState string

// Reporting sub-states.
const (
	ReportingNotRequired     ReportingState = "not_required"
	ReportingPending         ReportingState = "pending"
	ReportingSubmitted       ReportingState = "submitted"
	ReportingUpdateRequired  ReportingState = "update_required"
	ReportingUpdateSubmitted ReportingState = "update_submitted"
	ReportingFinalSubmitted  ReportingState = "final_submitted"
	ReportingClosed          ReportingState = "closed"
)

// IsValid checks if the reporting state is a known value.
func (s ReportingState) IsValid() bool {
	switch s {
	case ReportingNotRequired, ReportingPending, ReportingSubmitted, ReportingUpdateRequired,
		ReportingUpdateSubmitted, ReportingFinalSubmitted, ReportingClosed:
		return true
	}
	return false
}

// IsTerminal reports whether the reporting sub-state permits incident closure.
func (s ReportingState) IsTerminal() bool {
	return s == ReportingNotRequired || s == ReportingFinalSubmitted || s == ReportingClosed
}

// IncidentMilestones holds optional milestone timestamps set as the
// incident progresses.
type IncidentMilestones struct {
	ReportedAt        *time.Time `json:"reported_at"`
	AnalysisStartedAt *time.Time `json:"analysis_started_at"`
	ContainedAt       *time.Time `json:"contained_at"`
	EradicatedAt      *time.Time `json:"eradicated_at"`
	RecoveryStartedAt *time.Time `json:"recovery_started_at"`
	RecoveredAt       *time.Time `json:"recovered_at"`
	ClosedAt          *time.Time `json:"closed_at"`
}

// IncidentImpact holds measured impact of an incident.
type IncidentImpact struct {
	AffectedUsers      int            `json:"affected_users"`
	AffectedRecords    int            `json:"affected_records"`
	DataExfiltrated    bool           `json:"data_exfiltrated"`
	ServiceDisrupted   bool           `json:"service_disrupted"`
	DisruptionDuration *time.Duration `json:"disruption_duration"`
}

// IncidentAttack holds attack-technical detail.
type IncidentAttack struct {
	Vector     string   `json:"vector,omitempty"`
	Actor      string   `json:"actor,omitempty"`
	Indicators []string `json:"indicators,omitempty"`
}

// TimelineEntry is one self-describing entry in an incident timeline.
// The status at append time is recorded so the timeline can be read
// without replaying transitions.
type TimelineEntry struct {
	ID          string         `json:"id"`
	EventKind   string         `json:"event_kind"`
	Description string         `json:"description"`
	Detail      string         `json:"detail,omitempty"`
	Status      IncidentStatus `json:"status"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Incident is one security incident aggregate.
type Incident struct {
	ID              string             `json:"id"`
	ServiceID       string             `json:"service_id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Category        IncidentCategory   `json:"category"`
	Severity        IncidentSeverity   `json:"severity"`
	Status          IncidentStatus     `json:"status"`
	DetectedAt      time.Time          `json:"detected_at"`
	DetectionSource string             `json:"detection_source"`
	Milestones      IncidentMilestones `json:"milestones"`
	Impact          IncidentImpact     `json:"impact"`
	Attack          IncidentAttack     `json:"attack"`
	Reporting       ReportingState     `json:"reporting_state"`
	ReportDeadline  *time.Time         `json:"report_deadline"`
	ReportCaseNo    *string            `json:"report_case_no"`
	RelatedCheckIDs []string           `json:"related_check_ids,omitempty"`
	Version         int64              `json:"version"`
	CreatedBy       string             `json:"created_by"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
