// Package sink delivers fire-and-forget lifecycle events to an external
// notification/report sink. Delivery failure never rolls back the state
// transition that produced the event.
package sink

import "time"

// EventKind identifies the transition that produced an event.
type EventKind string

// Event kinds emitted by the lifecycle engines.
const (
	EventIncidentAnalysisStarted EventKind = "incident.analysis_started"
	EventIncidentContained       EventKind = "incident.contained"
	EventIncidentEradicated      EventKind = "incident.eradicated"
	EventIncidentRecovered       EventKind = "incident.recovered"
	EventIncidentClosed          EventKind = "incident.closed"
	EventIncidentReportSubmitted EventKind = "incident.report_submitted"
	EventChangeNotificationSent  EventKind = "change.scn_submitted"
	EventChangeApproved          EventKind = "change.approved"
	EventCheckReminder           EventKind = "check.manual_reminder"
	EventRuleErrored             EventKind = "check.rule_errored"
	EventReportSubmitted         EventKind = "report.submitted"
)

// Event is one outbound notification payload.
type Event struct {
	AggregateID string         `json:"aggregate_id"`
	Kind        EventKind      `json:"kind"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards all events. Used when the sink is disabled.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(Event) {}
