package models

const (
	// DefaultEventLimit bounds ListEvents when the caller gives no limit.
	DefaultEventLimit = 100
	// MaxEventLimit caps any caller-supplied limit.
	MaxEventLimit = 1000
)

// EventFilter narrows the diagnostic event listing.
type EventFilter struct {
	Service     string
	Environment string
	Level       Level
	Limit       int
}

// EffectiveLimit clamps Limit into (0, MaxEventLimit].
func (f EventFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultEventLimit
	case f.Limit > MaxEventLimit:
		return MaxEventLimit
	default:
		return f.Limit
	}
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(e Event) bool {
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	return true
}

// IncidentFilter narrows the incident listing.
type IncidentFilter struct {
	Status      Status
	Environment string
}

// Matches applies the filter to a single incident.
func (f IncidentFilter) Matches(i Incident) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Environment != "" && i.Environment != f.Environment {
		return false
	}
	return true
}

// IngestResult is the outcome of one ingested event: the persisted event,
// the incident it opened (if any) and the edges it created.
type IngestResult struct {
	Event        Event
	Opened       *Incident
	Correlations []Correlation
}
