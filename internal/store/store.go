// Package store persists the append-only event log, incidents and the
// correlation edges between them.
package store

import (
	"context"
	"time"

	"github.com/miradorstack/blackbox/internal/models"
)

// Store is the persistence contract consumed by the correlation engine and
// the read APIs. Implementations must make CreateIncidentIfNoneOpen and
// AddCorrelation atomic with respect to concurrent callers.
type Store interface {
	// AppendEvent persists a new event, assigning its id and received_at.
	AppendEvent(ctx context.Context, e models.NewEvent) (models.Event, error)
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	// CountErrors counts error events for service/environment with from <= timestamp <= to.
	CountErrors(ctx context.Context, service, environment string, from, to time.Time) (int, error)

	// CreateIncidentIfNoneOpen inserts inc unless an open incident already
	// exists for (PrimaryService, Environment). created is false in that case.
	CreateIncidentIfNoneOpen(ctx context.Context, inc models.Incident) (stored models.Incident, created bool, err error)
	// OpenIncidents returns open incidents in environment, oldest id first.
	OpenIncidents(ctx context.Context, environment string) ([]models.Incident, error)
	GetIncident(ctx context.Context, id int64) (models.Incident, error)
	// ListIncidents returns incidents ordered by start_time descending.
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	// ResolveIncident marks the incident resolved and, when end_time is unset,
	// sets it to the latest correlated event timestamp.
	ResolveIncident(ctx context.Context, id int64) (models.Incident, error)

	// AddCorrelation records an edge; created is false when (incident, event) already exists.
	AddCorrelation(ctx context.Context, c models.Correlation) (created bool, err error)
	// HasCorrelatedRequestID reports whether any event already correlated to
	// the incident carries requestID.
	HasCorrelatedRequestID(ctx context.Context, incidentID int64, requestID string) (bool, error)
	// Timeline returns correlated events ordered by timestamp then id.
	Timeline(ctx context.Context, incidentID int64) ([]models.TimelineEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
