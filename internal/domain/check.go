package domain

import "time"

// CheckKind represents the kind of an automated validation rule.
type CheckKind string

// Check kinds.
const (
	CheckKindScanner           CheckKind = "scanner"
	CheckKindAPIProbe          CheckKind = "api_probe"
	CheckKindConfig            CheckKind = "config"
	CheckKindLogQuery          CheckKind = "log_query"
	CheckKindEvidenceFreshness CheckKind = "evidence_freshness"
	CheckKindScript            CheckKind = "script"
	CheckKindManualReminder    CheckKind = "manual_reminder"
)

// IsValid checks if the check kind is a known value.
func (k CheckKind) IsValid() bool {
	switch k {
	case CheckKindScanner, CheckKindAPIProbe, CheckKindConfig, CheckKindLogQuery,
		CheckKindEvidenceFreshness, CheckKindScript, CheckKindManualReminder:
		return true
	}
	return false
}

// CheckFrequency represents how often a rule executes.
type CheckFrequency string

// Check frequencies.
const (
	FrequencyContinuous CheckFrequency = "continuous"
	FrequencyHourly     CheckFrequency = "hourly"
	FrequencyDaily      CheckFrequency = "daily"
	FrequencyWeekly     CheckFrequency = "weekly"
	FrequencyMonthly    CheckFrequency = "monthly"
	FrequencyQuarterly  CheckFrequency = "quarterly"
	FrequencyOnDemand   CheckFrequency = "on_demand"
)

// IsValid checks if the frequency is a known value.
func (f CheckFrequency) IsValid() bool {
	switch f {
	case FrequencyContinuous, FrequencyHourly, FrequencyDaily, FrequencyWeekly,
		FrequencyMonthly, FrequencyQuarterly, FrequencyOnDemand:
		return true
	}
	return false
}

// Interval returns the scheduling interval for the frequency.
// The second return value is false for on-demand rules, which have no
// scheduled due time.
func (f CheckFrequency) Interval() (time.Duration, bool) {
	switch f {
	case FrequencyContinuous:
		return 5 * time.Minute, true
	case FrequencyHourly:
		return time.Hour, true
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	case FrequencyMonthly:
		return 30 * 24 * time.Hour, true
	case FrequencyQuarterly:
		return 90 * 24 * time.Hour, true
	}
	return 0, false
}

// RuleStatus represents the operational status of a check definition.
type RuleStatus string

// Rule statuses.
const (
	RuleStatusDraft      RuleStatus = "draft"
	RuleStatusActive     RuleStatus = "active"
	RuleStatusPaused     RuleStatus = "paused"
	RuleStatusDeprecated RuleStatus = "deprecated"
	RuleStatusError      RuleStatus = "error"
)

// IsValid checks if the rule status is a known value.
func (s RuleStatus) IsValid() bool {
	switch s {
	case RuleStatusDraft, RuleStatusActive, RuleStatusPaused, RuleStatusDeprecated, RuleStatusError:
		return true
	}
	return false
}

// FailureThreshold is the number of consecutive failed executions after
// which a rule's operational status is forced to error.
const FailureThreshold = 3

// ScannerConfig configures an external-scanner check.
type ScannerConfig struct {
	Endpoint     string `json:"endpoint" validate:"required,url"`
	ScanProfile  string `json:"scan_profile"`
	MaxCritical  int    `json:"max_critical"`
	MaxHigh      int    `json:"max_high"`
	TargetsQuery string `json:"targets_query"`
}

// APIProbeConfig configures an API probe check.
type APIProbeConfig struct {
	URL            string            `json:"url" validate:"required,url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	ExpectedStatus int               `json:"expected_status"`
	BodyContains   string            `json:"body_contains"`
}

// ConfigCheckConfig configures a configuration check against a JSON document.
type ConfigCheckConfig struct {
	SourceURL string            `json:"source_url" validate:"required,url"`
	Expected  map[string]string `json:"expected" validate:"required,min=1"`
}

// LogQueryConfig configures a log query check.
type LogQueryConfig struct {
	QueryURL   string        `json:"query_url" validate:"required,url"`
	Query      string        `json:"query" validate:"required"`
	Window     time.Duration `json:"window"`
	MaxMatches int           `json:"max_matches"`
}

// EvidenceFreshnessConfig configures an evidence-freshness check.
type EvidenceFreshnessConfig struct {
	EvidenceIDs []string      `json:"evidence_ids" validate:"required,min=1"`
	MaxAge      time.Duration `json:"max_age" validate:"required"`
}

// ScriptConfig configures a custom script check.
type ScriptConfig struct {
	Command string   `json:"command" validate:"required"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
}

// ManualReminderConfig configures a manual check with reminder.
type ManualReminderConfig struct {
	Assignee     string `json:"assignee"`
	Instructions string `json:"instructions"`
}

// CheckConfig is the kind-specific configuration of a check definition.
// Exactly one variant matching the rule's kind must be set.
type CheckConfig struct {
	Scanner           *ScannerConfig           `json:"scanner,omitempty"`
	APIProbe          *APIProbeConfig          `json:"api_probe,omitempty"`
	Config            *ConfigCheckConfig       `json:"config,omitempty"`
	LogQuery          *LogQueryConfig          `json:"log_query,omitempty"`
	EvidenceFreshness *EvidenceFreshnessConfig `json:"evidence_freshness,omitempty"`
	Script            *ScriptConfig            `json:"script,omitempty"`
	ManualReminder    *ManualReminderConfig    `json:"manual_reminder,omitempty"`
}

// ValidateForKind checks that the config carries exactly the variant
// matching the given kind.
func (c CheckConfig) ValidateForKind(kind CheckKind) error {
	set := map[CheckKind]bool{
		CheckKindScanner:           c.Scanner != nil,
		CheckKindAPIProbe:          c.APIProbe != nil,
		CheckKindConfig:            c.Config != nil,
		CheckKindLogQuery:          c.LogQuery != nil,
		CheckKindEvidenceFreshness: c.EvidenceFreshness != nil,
		CheckKindScript:            c.Script != nil,
		CheckKindManualReminder:    c.ManualReminder != nil,
	}
	if !set[kind] {
		return NewValidationError("config", "missing configuration for kind "+string(kind))
	}
	for k, present := range set {
		if present && k != kind {
			return NewValidationError("config", "configuration for kind "+string(k)+" does not match rule kind "+string(kind))
		}
	}
	return nil
}

// CheckDefinition is an automated validation rule owned by one service
// (or global when ServiceID is nil).
type CheckDefinition struct {
	ID                  string         `json:"id"`
	ServiceID           *string        `json:"service_id"`
	Name                string         `json:"name"`
	Kind                CheckKind      `json:"kind"`
	IndicatorRefs       []string       `json:"indicator_refs"`
	Frequency           CheckFrequency `json:"frequency"`
	Config              CheckConfig    `json:"config"`
	PassCriteria        string         `json:"pass_criteria"`
	Status              RuleStatus     `json:"status"`
	NextDueAt           *time.Time     `json:"next_due_at"`
	LastExecutedAt      *time.Time     `json:"last_executed_at"`
	LastResult          *string        `json:"last_result"`
	LastError           *string        `json:"last_error"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	ExecutionCount      int64          `json:"execution_count"`
	PassCount           int64          `json:"pass_count"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsDue reports whether the rule should execute at the given time.
// Rules without a scheduled due time (on-demand) never auto-fire.
func (c *CheckDefinition) IsDue(now time.Time) bool {
	if c.Status != RuleStatusActive && c.Status != RuleStatusError {
		return false
	}
	if c.NextDueAt == nil {
		return false
	}
	return !now.Before(*c.NextDueAt)
}

// PassRate returns lifetime passes over lifetime executions, 0 with no executions.
func (c *CheckDefinition) PassRate() float64 {
	if c.ExecutionCount == 0 {
		return 0
	}
	return float64(c.PassCount) / float64(c.ExecutionCount)
}
