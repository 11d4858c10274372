package models

import (
	"strings"
	"time"
)

// Status captures the incident lifecycle.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s == StatusOpen || s == StatusResolved }

// Severity is derived from the error count that triggered detection.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Incident is a detected failure window tied to one service and environment.
type Incident struct {
	ID             int64      `json:"id"`
	PrimaryService string     `json:"primary_service"`
	Environment    string     `json:"environment"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Severity       Severity   `json:"severity"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsOpen reports whether the incident still accepts correlations.
func (i Incident) IsOpen() bool { return i.Status == StatusOpen }

// Rule names a deterministic correlation rule.
type Rule string

const (
	RuleSameRequestID     Rule = "same_request_id"
	RuleSameServiceWindow Rule = "same_service_time_window"
	RuleEnvironmentWindow Rule = "environment_incident_window"
)

// UnknownCorrelationReason labels a timeline event that has no matching edge.
const UnknownCorrelationReason = "unknown"

const reasonSeparator = ", "

// Rules lists every rule in evaluation order.
var Rules = []Rule{RuleSameRequestID, RuleSameServiceWindow, RuleEnvironmentWindow}

// JoinRules renders matched rules as a correlation reason.
func JoinRules(rules []Rule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, reasonSeparator)
}

// SplitReason parses a correlation reason back into rule names.
func SplitReason(reason string) []Rule {
	if strings.TrimSpace(reason) == "" {
		return nil
	}
	parts := strings.Split(reason, ",")
	rules := make([]Rule, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, Rule(p))
		}
	}
	return rules
}

// Correlation is the auditable edge linking an event to an incident.
type Correlation struct {
	IncidentID int64     `json:"incident_id"`
	EventID    int64     `json:"event_id"`
	Reason     string    `json:"correlation_reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// TimelineEntry is a correlated event annotated with its edge reason.
type TimelineEntry struct {
	Event
	CorrelationReason string `json:"correlation_reason"`
}

// IncidentDetail is the primary analysis view of one incident.
type IncidentDetail struct {
	Incident
	RootCauseSummary string          `json:"root_cause_summary"`
	Timeline         []TimelineEntry `json:"timeline"`
	EventCount       int             `json:"event_count"`
}
