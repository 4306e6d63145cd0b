package domain

import "time"

// ReportStatus represents the lifecycle of an authorization report.
type ReportStatus string

// Report statuses.
const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
)

// IsValid checks if the report status is a known value.
func (s ReportStatus) IsValid() bool {
	return s == ReportDraft || s == ReportSubmitted
}

// ReportPeriod is a calendar quarter reporting period.
type ReportPeriod struct {
	Year    int       `json:"year"`
	Quarter int       `json:"quarter"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// QuarterPeriod computes the calendar period for a year and quarter (1-4).
func QuarterPeriod(year, quarter int) (ReportPeriod, error) {
	if quarter < 1 || quarter > 4 {
		return ReportPeriod{}, NewValidationError("quarter", "must be between 1 and 4")
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return ReportPeriod{
		Year:    year,
		Quarter: quarter,
		Start:   start,
		End:     start.AddDate(0, 3, 0),
	}, nil
}

// IndicatorSnapshot summarizes indicator compliance at capture time.
type IndicatorSnapshot struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByStatus   map[string]int `json:"by_status"`
}

// VulnerabilitySnapshot summarizes open vulnerabilities at capture time.
type VulnerabilitySnapshot struct {
	Open       int            `json:"open"`
	Overdue    int            `json:"overdue"`
	BySeverity map[string]int `json:"by_severity"`
}

// IncidentSnapshot summarizes incidents within the reporting period.
type IncidentSnapshot struct {
	Total              int            `json:"total"`
	BySeverity         map[string]int `json:"by_severity"`
	ByCategory         map[string]int `json:"by_category"`
	AvgContainHours    float64        `json:"avg_contain_hours"`
	AvgResolveHours    float64        `json:"avg_resolve_hours"`
	DataExfiltration   int            `json:"data_exfiltration"`
	ServiceDisruptions int            `json:"service_disruptions"`
}

// ChangeSnapshot summarizes change requests within the reporting period.
type ChangeSnapshot struct {
	Total           int            `json:"total"`
	ByImpact        map[string]int `json:"by_impact"`
	ByStatus        map[string]int `json:"by_status"`
	ByType          map[string]int `json:"by_type"`
	PendingApproval int            `json:"pending_approval"`
}

// ValidationSnapshot summarizes automated validation activity in the period.
type ValidationSnapshot struct {
	ActiveRules     int     `json:"active_rules"`
	Executions      int     `json:"executions"`
	Passed          int     `json:"passed"`
	PassRate        float64 `json:"pass_rate"`
	RulesInError    int     `json:"rules_in_error"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// Attestation is the sign-off recorded before a report may be submitted.
type Attestation struct {
	AttestedBy string    `json:"attested_by"`
	Role       string    `json:"role"`
	Statement  string    `json:"statement"`
	AttestedAt time.Time `json:"attested_at"`
}

// ReviewComment is a reviewer annotation; the only mutation permitted
// after submission.
type ReviewComment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthorizationReport is the periodic frozen compliance snapshot for one
// (service, period). Summary data is immutable once submitted.
type AuthorizationReport struct {
	ID              string                `json:"id"`
	ServiceID       string                `json:"service_id"`
	Period          ReportPeriod          `json:"period"`
	Status          ReportStatus          `json:"status"`
	Indicators      IndicatorSnapshot     `json:"indicators"`
	Vulnerabilities VulnerabilitySnapshot `json:"vulnerabilities"`
	Incidents       IncidentSnapshot      `json:"incidents"`
	Changes         ChangeSnapshot        `json:"changes"`
	Validation      ValidationSnapshot    `json:"validation"`
	Narrative       string                `json:"narrative"`
	Attestation     *Attestation          `json:"attestation"`
	Digest          *string               `json:"digest"`
	SubmittedAt     *time.Time            `json:"submitted_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}
