package api

import (
	"strings"
	"testing"
	"time"

	blackboxv1 "github.com/miradorstack/blackbox/internal/grpc/blackboxv1"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

func TestFromWireIngestRequest(t *testing.T) {
	req := &blackboxv1.IngestEventRequest{
		Service:     " payments ",
		Environment: "production",
		Level:       "ERROR",
		Message:     "Database timeout after 30s",
		RequestId:   "req_1",
		Timestamp:   "2024-01-15T10:00:00+01:00",
	}

	ev, err := FromWireIngestRequest(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Service != "payments" || ev.Level != models.LevelError {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)) || ev.Timestamp.Location() != time.UTC {
		t.Fatalf("unexpected timestamp: %v", ev.Timestamp)
	}
}

func TestFromWireIngestRequestInvalid(t *testing.T) {
	cases := map[string]*blackboxv1.IngestEventRequest{
		"nil":           nil,
		"no timestamp":  {Service: "a", Environment: "b", Level: "info", Message: "m"},
		"bad timestamp": {Service: "a", Environment: "b", Level: "info", Message: "m", Timestamp: "soon"},
		"bad level":     {Service: "a", Environment: "b", Level: "fatal", Message: "m", Timestamp: "2024-01-15T10:00:00Z"},
		"long service":  {Service: strings.Repeat("a", 300), Environment: "b", Level: "info", Message: "m", Timestamp: "2024-01-15T10:00:00Z"},
		"long env":      {Service: "a", Environment: strings.Repeat("b", 51), Level: "info", Message: "m", Timestamp: "2024-01-15T10:00:00Z"},
	}
	for name, req := range cases {
		if _, err := FromWireIngestRequest(req); !utils.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestFromWireListRequests(t *testing.T) {
	filter, err := FromWireListEventsRequest(&blackboxv1.ListEventsRequest{Service: "orders", Level: "warning", Limit: 5})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if filter.Service != "orders" || filter.Level != models.LevelWarning || filter.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", filter)
	}
	if _, err := FromWireListEventsRequest(&blackboxv1.ListEventsRequest{Limit: -1}); !utils.IsValidation(err) {
		t.Fatalf("expected validation error for negative limit, got %v", err)
	}

	incFilter, err := FromWireListIncidentsRequest(nil)
	if err != nil || incFilter != (models.IncidentFilter{}) {
		t.Fatalf("expected empty filter for nil request, got %+v, %v", incFilter, err)
	}
	if _, err := FromWireListIncidentsRequest(&blackboxv1.ListIncidentsRequest{Status: "closed"}); !utils.IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestToWireIncidentDetail(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 57, 0, 0, time.UTC)
	end := start.Add(3 * time.Minute)
	detail := models.IncidentDetail{
		Incident: models.Incident{
			ID:             7,
			PrimaryService: "payments",
			Environment:    "production",
			StartTime:      start,
			EndTime:        &end,
			Severity:       models.SeverityHigh,
			Status:         models.StatusResolved,
			CreatedAt:      start,
		},
		RootCauseSummary: "summary",
		Timeline: []models.TimelineEntry{
			{Event: models.Event{ID: 3, Service: "payments", Level: models.LevelError, Timestamp: start}, CorrelationReason: "same_service_time_window"},
		},
		EventCount: 1,
	}

	out := ToWireIncidentDetail(detail)
	if out.Incident.Id != 7 || out.Incident.Severity != "high" || out.Incident.Status != "resolved" {
		t.Fatalf("unexpected incident: %+v", out.Incident)
	}
	if out.Incident.EndTime != "2024-01-15T10:00:00Z" {
		t.Fatalf("unexpected end time: %s", out.Incident.EndTime)
	}
	if len(out.Timeline) != 1 || out.Timeline[0].Event.Id != 3 || out.Timeline[0].CorrelationReason != "same_service_time_window" {
		t.Fatalf("unexpected timeline: %+v", out.Timeline)
	}
	if out.EventCount != 1 || out.RootCauseSummary != "summary" {
		t.Fatalf("unexpected detail: %+v", out)
	}
}

func TestToWireIngestResponse(t *testing.T) {
	opened := &models.Incident{ID: 4}
	resp := ToWireIngestResponse(models.Event{ID: 9}, opened, []models.Correlation{{IncidentID: 4, EventID: 9}, {IncidentID: 2, EventID: 9}})
	if resp.Event.Id != 9 || resp.OpenedIncidentId != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.CorrelatedTo) != 2 || resp.CorrelatedTo[0] != 4 || resp.CorrelatedTo[1] != 2 {
		t.Fatalf("unexpected correlations: %v", resp.CorrelatedTo)
	}

	open := ToWireResolveResponse(models.Incident{ID: 1, Status: models.StatusOpen})
	if open.EndTime != "" || open.Status != "open" {
		t.Fatalf("unexpected resolve response: %+v", open)
	}
}
