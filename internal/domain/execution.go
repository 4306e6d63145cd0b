package domain

import "time"

// ExecutionStatus represents the outcome class of one check execution.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionPassed  ExecutionStatus = "passed"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionErrored ExecutionStatus = "error"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// IsValid checks if the execution status is a known value.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionPassed, ExecutionFailed, ExecutionErrored, ExecutionSkipped:
		return true
	}
	return false
}

// FindingSeverity classifies a finding produced by a check execution.
type FindingSeverity string

// Finding severities.
const (
	FindingCritical FindingSeverity = "critical"
	FindingHigh     FindingSeverity = "high"
	FindingModerate FindingSeverity = "moderate"
	FindingLow      FindingSeverity = "low"
	FindingInfo     FindingSeverity = "informational"
)

// Finding is one structured observation from a check execution.
type Finding struct {
	Severity    FindingSeverity `json:"severity"`
	Title       string          `json:"title"`
	Detail      string          `json:"detail,omitempty"`
	ResourceRef string          `json:"resource_ref,omitempty"`
}

// Execution is one immutable outcome of running a check definition.
// Append-only; never mutated after creation.
type Execution struct {
	ID          string          `json:"id"`
	CheckID     string          `json:"check_id"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Duration    time.Duration   `json:"duration"`
	Status      ExecutionStatus `json:"status"`
	Passed      bool            `json:"passed"`
	Detail      string          `json:"detail,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Findings    []Finding       `json:"findings,omitempty"`
	EvidenceIDs []string        `json:"evidence_ids,omitempty"`
}
