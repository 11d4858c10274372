package api

import (
	"fmt"
	"time"

	blackboxv1 "github.com/miradorstack/blackbox/internal/grpc/blackboxv1"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
	"github.com/miradorstack/blackbox/internal/validate"
)

// FromWireIngestRequest maps the gRPC ingest request into a domain event.
func FromWireIngestRequest(req *blackboxv1.IngestEventRequest) (models.NewEvent, error) {
	const op = "api.FromWireIngestRequest"
	if req == nil {
		return models.NewEvent{}, utils.Invalid(op, "request is nil")
	}
	if req.Timestamp == "" {
		return models.NewEvent{}, utils.Invalid(op, "timestamp is required")
	}
	ts, err := validate.ParseTimestamp(req.Timestamp)
	if err != nil {
		return models.NewEvent{}, utils.Invalid(op, err.Error())
	}
	ev := models.NewEvent{
		Service:     req.Service,
		Environment: req.Environment,
		Level:       models.Level(req.Level),
		Message:     req.Message,
		RequestID:   req.RequestId,
		Timestamp:   ts,
	}.Normalize()
	if err := ev.Validate(); err != nil {
		return models.NewEvent{}, err
	}
	return ev, nil
}

// FromWireListEventsRequest maps the listing filters. A nil request lists everything.
func FromWireListEventsRequest(req *blackboxv1.ListEventsRequest) (models.EventFilter, error) {
	if req == nil {
		return models.EventFilter{}, nil
	}
	filter := models.EventFilter{
		Service:     req.Service,
		Environment: req.Environment,
		Level:       models.Level(req.Level),
		Limit:       int(req.Limit),
	}
	if filter.Level != "" && !filter.Level.Valid() {
		return models.EventFilter{}, utils.Invalid("api.FromWireListEventsRequest", fmt.Sprintf("unknown level %q", req.Level))
	}
	if req.Limit < 0 {
		return models.EventFilter{}, utils.Invalid("api.FromWireListEventsRequest", "limit must not be negative")
	}
	return filter, nil
}

// FromWireListIncidentsRequest maps incident listing filters.
func FromWireListIncidentsRequest(req *blackboxv1.ListIncidentsRequest) (models.IncidentFilter, error) {
	filter := models.IncidentFilter{
		Status:      models.Status(req.GetStatus()),
		Environment: req.GetEnvironment(),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return models.IncidentFilter{}, utils.Invalid("api.FromWireListIncidentsRequest", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return filter, nil
}

// ToWireEvent converts a stored event.
func ToWireEvent(ev models.Event) *blackboxv1.Event {
	return &blackboxv1.Event{
		Id:          ev.ID,
		Service:     ev.Service,
		Environment: ev.Environment,
		Level:       string(ev.Level),
		Message:     ev.Message,
		RequestId:   ev.RequestID,
		Timestamp:   formatTime(ev.Timestamp),
		ReceivedAt:  formatTime(ev.ReceivedAt),
	}
}

// ToWireEvents converts an event listing.
func ToWireEvents(events []models.Event) *blackboxv1.ListEventsResponse {
	resp := &blackboxv1.ListEventsResponse{Events: make([]*blackboxv1.Event, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, ToWireEvent(ev))
	}
	return resp
}

// ToWireIncident converts an incident.
func ToWireIncident(inc models.Incident) *blackboxv1.Incident {
	out := &blackboxv1.Incident{
		Id:             inc.ID,
		PrimaryService: inc.PrimaryService,
		Environment:    inc.Environment,
		StartTime:      formatTime(inc.StartTime),
		Severity:       string(inc.Severity),
		Status:         string(inc.Status),
		CreatedAt:      formatTime(inc.CreatedAt),
	}
	if inc.EndTime != nil {
		out.EndTime = formatTime(*inc.EndTime)
	}
	return out
}

// ToWireIncidents converts an incident listing.
func ToWireIncidents(incidents []models.Incident) *blackboxv1.ListIncidentsResponse {
	resp := &blackboxv1.ListIncidentsResponse{Incidents: make([]*blackboxv1.Incident, 0, len(incidents))}
	for _, inc := range incidents {
		resp.Incidents = append(resp.Incidents, ToWireIncident(inc))
	}
	return resp
}

// ToWireIncidentDetail converts the incident analysis view.
func ToWireIncidentDetail(detail models.IncidentDetail) *blackboxv1.IncidentDetail {
	out := &blackboxv1.IncidentDetail{
		Incident:         ToWireIncident(detail.Incident),
		RootCauseSummary: detail.RootCauseSummary,
		Timeline:         make([]*blackboxv1.TimelineEntry, 0, len(detail.Timeline)),
		EventCount:       int32(detail.EventCount),
	}
	for _, entry := range detail.Timeline {
		out.Timeline = append(out.Timeline, &blackboxv1.TimelineEntry{
			Event:             ToWireEvent(entry.Event),
			CorrelationReason: entry.CorrelationReason,
		})
	}
	return out
}

// ToWireIngestResponse reports the persisted event and what it changed.
func ToWireIngestResponse(ev models.Event, opened *models.Incident, correlations []models.Correlation) *blackboxv1.IngestEventResponse {
	resp := &blackboxv1.IngestEventResponse{Event: ToWireEvent(ev)}
	if opened != nil {
		resp.OpenedIncidentId = opened.ID
	}
	for _, c := range correlations {
		resp.CorrelatedTo = append(resp.CorrelatedTo, c.IncidentID)
	}
	return resp
}

// ToWireResolveResponse reports the new incident status.
func ToWireResolveResponse(inc models.Incident) *blackboxv1.ResolveIncidentResponse {
	resp := &blackboxv1.ResolveIncidentResponse{IncidentId: inc.ID, Status: string(inc.Status)}
	if inc.EndTime != nil {
		resp.EndTime = formatTime(*inc.EndTime)
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
