package domain

import "time"

// ChangeStatus represents the lifecycle status of a change request.
type ChangeStatus string

// Change request statuses.
const (
	ChangeDraft           ChangeStatus = "draft"
	ChangeSubmitted       ChangeStatus = "submitted"
	ChangeImpactAnalysis  ChangeStatus = "impact_analysis"
	ChangeImpactAssessed  ChangeStatus = "impact_assessed"
	ChangeSCNRequired     ChangeStatus = "scn_required"
	ChangeSCNNotRequired  ChangeStatus = "scn_not_required"
	ChangeSCNSubmitted    ChangeStatus = "scn_submitted"
	ChangeSCNAcknowledged ChangeStatus = "scn_acknowledged"
	ChangeApproved        ChangeStatus = "approved"
	ChangeImplemented     ChangeStatus = "implemented"
	ChangeRejected        ChangeStatus = "rejected"
	ChangeWithdrawn       ChangeStatus = "withdrawn"
)

// IsValid checks if the change status is a known value.
func (s ChangeStatus) IsValid() bool {
	switch s {
	case ChangeDraft, ChangeSubmitted, ChangeImpactAnalysis, ChangeImpactAssessed,
		ChangeSCNRequired, ChangeSCNNotRequired, ChangeSCNSubmitted, ChangeSCNAcknowledged,
		ChangeApproved, ChangeImplemented, ChangeRejected, ChangeWithdrawn:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s ChangeStatus) IsTerminal() bool {
	return s == ChangeImplemented || s == ChangeRejected || s == ChangeWithdrawn
}

// ChangeType classifies a proposed change.
type ChangeType string

// Change types.
const (
	ChangeTypeFeature        ChangeType = "feature"
	ChangeTypeInfrastructure ChangeType = "infrastructure"
	ChangeTypeSecurity       ChangeType = "security"
	ChangeTypeConfiguration  ChangeType = "configuration"
	ChangeTypeThirdParty     ChangeType = "third_party"
	ChangeTypeEmergency      ChangeType = "emergency"
)

// IsValid checks if the change type is a known value.
func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeTypeFeature, ChangeTypeInfrastructure, ChangeTypeSecurity,
		ChangeTypeConfiguration, ChangeTypeThirdParty, ChangeTypeEmergency:
		return true
	}
	return false
}

// RiskDelta classifies the change in risk posture after a change.
type RiskDelta string

// Risk delta classifications.
const (
	RiskDeltaIncreased RiskDelta = "increased"
	RiskDeltaNeutral   RiskDelta = "neutral"
	RiskDeltaReduced   RiskDelta = "reduced"
)

// IsValid checks if the risk delta is a known value.
func (d RiskDelta) IsValid() bool {
	return d == RiskDeltaIncreased || d == RiskDeltaNeutral || d == RiskDeltaReduced
}

// ImpactLevel classifies overall change impact.
type ImpactLevel string

// Impact levels.
const (
	ImpactLow      ImpactLevel = "low"
	ImpactModerate ImpactLevel = "moderate"
	ImpactHigh     ImpactLevel = "high"
)

// IsValid checks if the impact level is a known value.
func (l ImpactLevel) IsValid() bool {
	return l == ImpactLow || l == ImpactModerate || l == ImpactHigh
}

// ImpactAnalysis is the completed impact-analysis payload of a change request.
type ImpactAnalysis struct {
	Level              ImpactLevel `json:"level"`
	AffectedComponents []string    `json:"affected_components"`
	AffectedIndicators []string    `json:"affected_indicators"`
	AffectedControls   []string    `json:"affected_controls"`
	RiskBefore         string      `json:"risk_before"`
	RiskAfter          string      `json:"risk_after"`
	RiskDelta          RiskDelta   `json:"risk_delta"`
	CompletedAt        time.Time   `json:"completed_at"`
	CompletedBy        string      `json:"completed_by"`
}

// NotificationDetermination records whether an external significant-change
// notification is required and why.
type NotificationDetermination struct {
	Required     bool      `json:"required"`
	Category     string    `json:"category,omitempty"`
	Rationale    string    `json:"rationale,omitempty"`
	DeterminedAt time.Time `json:"determined_at"`
	DeterminedBy string    `json:"determined_by"`
}

// AuditEntry is one self-describing entry in a change request audit trail.
type AuditEntry struct {
	ID          string       `json:"id"`
	EventKind   string       `json:"event_kind"`
	Description string       `json:"description"`
	Detail      string       `json:"detail,omitempty"`
	Status      ChangeStatus `json:"status"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ChangeRequest is one proposed-change aggregate.
type ChangeRequest struct {
	ID                     string                     `json:"id"`
	ServiceID              string                     `json:"service_id"`
	Title                  string                     `json:"title"`
	Description            string                     `json:"description"`
	Type                   ChangeType                 `json:"type"`
	Status                 ChangeStatus               `json:"status"`
	RequestedAt            time.Time                  `json:"requested_at"`
	PlannedAt              *time.Time                 `json:"planned_at"`
	ImplementedAt          *time.Time                 `json:"implemented_at"`
	Impact                 *ImpactAnalysis            `json:"impact"`
	Notification           *NotificationDetermination `json:"notification"`
	SCNSubmittedAt         *time.Time                 `json:"scn_submitted_at"`
	SCNAcknowledgedAt      *time.Time                 `json:"scn_acknowledged_at"`
	SCNCaseNo              *string                    `json:"scn_case_no"`
	SecurityReviewRequired bool                       `json:"security_review_required"`
	SecurityReviewDone     bool                       `json:"security_review_done"`
	ApprovedBy             *string                    `json:"approved_by"`
	ApprovedAt             *time.Time                 `json:"approved_at"`
	Version                int64                      `json:"version"`
	CreatedBy              string                     `json:"created_by"`
	CreatedAt              time.Time                  `json:"created_at"`
	UpdatedAt              time.Time                  `json:"updated_at"`
}

// NotificationResolved reports whether the notification obligation no longer
// blocks approval: either none is required or the submitted notification has
// been acknowledged.
func (c *ChangeRequest) NotificationResolved() bool {
	if c.Notification == nil {
		return false
	}
	if !c.Notification.Required {
		return true
	}
	return c.SCNAcknowledgedAt != nil
}
