package domain

import "time"

// ImplementationStatus represents how far an indicator is implemented.
type ImplementationStatus string

// Implementation statuses.
const (
	ImplementationNotStarted    ImplementationStatus = "not_started"
	ImplementationInProgress    ImplementationStatus = "in_progress"
	ImplementationImplemented   ImplementationStatus = "implemented"
	ImplementationPartial       ImplementationStatus = "partial"
	ImplementationNotApplicable ImplementationStatus = "not_applicable"
)

// IsValid checks if the implementation status is a known value.
func (s ImplementationStatus) IsValid() bool {
	switch s {
	case ImplementationNotStarted, ImplementationInProgress, ImplementationImplemented,
		ImplementationPartial, ImplementationNotApplicable:
		return true
	}
	return false
}

// ComplianceStatus represents an indicator's compliance determination.
type ComplianceStatus string

// Compliance statuses.
const (
	ComplianceCompliant    ComplianceStatus = "compliant"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
	CompliancePending      ComplianceStatus = "pending"
	ComplianceUnknown      ComplianceStatus = "unknown"
)

// IsValid checks if the compliance status is a known value.
func (s ComplianceStatus) IsValid() bool {
	switch s {
	case ComplianceCompliant, ComplianceNonCompliant, CompliancePending, ComplianceUnknown:
		return true
	}
	return false
}

// ValidationMode represents how an indicator is validated.
type ValidationMode string

// Validation modes.
const (
	ValidationModeNotValidated ValidationMode = "not_validated"
	ValidationModeManual       ValidationMode = "manual"
	ValidationModeAutomated    ValidationMode = "automated"
	ValidationModeHybrid       ValidationMode = "hybrid"
)

// IsValid checks if the validation mode is a known value.
func (m ValidationMode) IsValid() bool {
	switch m {
	case ValidationModeNotValidated, ValidationModeManual, ValidationModeAutomated, ValidationModeHybrid:
		return true
	}
	return false
}

// IsAutomated reports whether the mode involves automated validation.
func (m ValidationMode) IsAutomated() bool {
	return m == ValidationModeAutomated || m == ValidationModeHybrid
}

// Applicability holds per-impact-tier applicability flags for an indicator.
type Applicability struct {
	Low      bool `json:"low"`
	Moderate bool `json:"moderate"`
	High     bool `json:"high"`
}

// Indicator is one key security indicator record for one service.
// Records are never deleted, only marked not applicable.
type Indicator struct {
	ID                   string               `json:"id"`
	ServiceID            string               `json:"service_id"`
	Reference            string               `json:"reference"`
	Category             string               `json:"category"`
	Name                 string               `json:"name"`
	Description          string               `json:"description"`
	Applicability        Applicability        `json:"applicability"`
	ImplementationStatus ImplementationStatus `json:"implementation_status"`
	ComplianceStatus     ComplianceStatus     `json:"compliance_status"`
	ValidationMode       ValidationMode       `json:"validation_mode"`
	AutomationPercent    int                  `json:"automation_percent"`
	LastValidatedAt      *time.Time           `json:"last_validated_at"`
	LastValidationPassed *bool                `json:"last_validation_passed"`
	EvidenceIDs          []string             `json:"evidence_ids"`
	RemediationPlanID    *string              `json:"remediation_plan_id"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// HasValidationEvidence reports whether the indicator may legitimately be
// marked compliant: either it has a non-default validation mode or at least
// one successful validation on record.
func (i *Indicator) HasValidationEvidence() bool {
	if i.ValidationMode != ValidationModeNotValidated {
		return true
	}
	return i.LastValidationPassed != nil && *i.LastValidationPassed
}
