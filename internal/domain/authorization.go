package domain

import "time"

// AuthorizationStatus represents a service's authorization status.
type AuthorizationStatus string

// Authorization statuses.
const (
	AuthorizationDraft     AuthorizationStatus = "draft"
	AuthorizationReady     AuthorizationStatus = "ready"
	AuthorizationInProcess AuthorizationStatus = "in_process"
	AuthorizationGranted   AuthorizationStatus = "authorized"
	AuthorizationRevoked   AuthorizationStatus = "revoked"
	AuthorizationWithdrawn AuthorizationStatus = "withdrawn"
)

// IsValid checks if the authorization status is a known value.
func (s AuthorizationStatus) IsValid() bool {
	switch s {
	case AuthorizationDraft, AuthorizationReady, AuthorizationInProcess,
		AuthorizationGranted, AuthorizationRevoked, AuthorizationWithdrawn:
		return true
	}
	return false
}

// ImpactTier is the impact tier a service is categorized at.
type ImpactTier string

// Impact tiers.
const (
	TierLow      ImpactTier = "low"
	TierModerate ImpactTier = "moderate"
	TierHigh     ImpactTier = "high"
)

// IsValid checks if the impact tier is a known value.
func (t ImpactTier) IsValid() bool {
	return t == TierLow || t == TierModerate || t == TierHigh
}

// ComplianceMetrics holds denormalized roll-up counters for a service.
// Always recomputed by full recount, never by incremental delta.
type ComplianceMetrics struct {
	TotalIndicators     int       `json:"total_indicators"`
	CompliantIndicators int       `json:"compliant_indicators"`
	AutomatedIndicators int       `json:"automated_indicators"`
	CompliancePercent   float64   `json:"compliance_percent"`
	AutomationPercent   float64   `json:"automation_percent"`
	RecountedAt         time.Time `json:"recounted_at"`
}

// ServiceAuthorization is the per-service authorization record.
type ServiceAuthorization struct {
	ID               string              `json:"id"`
	ServiceID        string              `json:"service_id"`
	ServiceName      string              `json:"service_name"`
	Status           AuthorizationStatus `json:"status"`
	ImpactTier       ImpactTier          `json:"impact_tier"`
	AuthorizedAt     *time.Time          `json:"authorized_at"`
	ExpiresAt        *time.Time          `json:"expires_at"`
	NextAssessmentAt *time.Time          `json:"next_assessment_at"`
	Metrics          ComplianceMetrics   `json:"metrics"`
	Version          int64               `json:"version"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}
