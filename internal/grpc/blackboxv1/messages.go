package blackboxv1

// Timestamps travel as RFC 3339 strings in UTC.

type Event struct {
	Id          int64  `json:"id"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
	Level       string `json:"level"`
	Message     string `json:"message"`
	RequestId   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp"`
	ReceivedAt  string `json:"received_at"`
}

type Incident struct {
	Id             int64  `json:"id"`
	PrimaryService string `json:"primary_service"`
	Environment    string `json:"environment"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time,omitempty"`
	Severity       string `json:"severity"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

type TimelineEntry struct {
	Event             *Event `json:"event"`
	CorrelationReason string `json:"correlation_reason"`
}

type IngestEventRequest struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
	Level       string `json:"level"`
	Message     string `json:"message"`
	RequestId   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type IngestEventResponse struct {
	Event *Event `json:"event"`
	// OpenedIncidentId is set when this event opened an incident.
	OpenedIncidentId int64   `json:"opened_incident_id,omitempty"`
	CorrelatedTo     []int64 `json:"correlated_to,omitempty"`
}

type ListIncidentsRequest struct {
	Status      string `json:"status,omitempty"`
	Environment string `json:"environment,omitempty"`
}

func (r *ListIncidentsRequest) GetStatus() string {
	if r == nil {
		return ""
	}
	return r.Status
}

func (r *ListIncidentsRequest) GetEnvironment() string {
	if r == nil {
		return ""
	}
	return r.Environment
}

type ListIncidentsResponse struct {
	Incidents []*Incident `json:"incidents"`
}

type GetIncidentRequest struct {
	Id int64 `json:"id"`
}

func (r *GetIncidentRequest) GetId() int64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type IncidentDetail struct {
	Incident         *Incident        `json:"incident"`
	RootCauseSummary string           `json:"root_cause_summary"`
	Timeline         []*TimelineEntry `json:"timeline"`
	EventCount       int32            `json:"event_count"`
}

type ResolveIncidentRequest struct {
	Id int64 `json:"id"`
}

func (r *ResolveIncidentRequest) GetId() int64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type ResolveIncidentResponse struct {
	IncidentId int64  `json:"incident_id"`
	Status     string `json:"status"`
	EndTime    string `json:"end_time,omitempty"`
}

type ListEventsRequest struct {
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment,omitempty"`
	Level       string `json:"level,omitempty"`
	Limit       int32  `json:"limit,omitempty"`
}

type ListEventsResponse struct {
	Events []*Event `json:"events"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}
