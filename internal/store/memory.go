package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

type edgeKey struct {
	incidentID int64
	eventID    int64
}

type openKey struct {
	service     string
	environment string
}

// MemoryStore keeps everything in process memory behind a single RWMutex.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	events      []models.Event
	eventIndex  map[int64]int
	incidents   []models.Incident
	incidentIdx map[int64]int
	open        map[openKey]int64

	edges       map[edgeKey]models.Correlation
	byIncident  map[int64][]int64
	requestKeys map[int64]map[string]struct{}

	nextEventID    int64
	nextIncidentID int64
}

// NewMemoryStore creates an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:         now,
		eventIndex:  make(map[int64]int),
		incidentIdx: make(map[int64]int),
		open:        make(map[openKey]int64),
		edges:       make(map[edgeKey]models.Correlation),
		byIncident:  make(map[int64][]int64),
		requestKeys: make(map[int64]map[string]struct{}),
	}
}

func (s *MemoryStore) AppendEvent(_ context.Context, e models.NewEvent) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	ev := models.Event{
		ID:          s.nextEventID,
		Service:     e.Service,
		Environment: e.Environment,
		Level:       e.Level,
		Message:     e.Message,
		RequestID:   e.RequestID,
		Timestamp:   e.Timestamp.UTC(),
		ReceivedAt:  s.now().UTC(),
	}
	s.eventIndex[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter models.EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	matched := make([]models.Event, 0)
	for _, ev := range s.events {
		if filter.Matches(ev) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountErrors(_ context.Context, service, environment string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, ev := range s.events {
		if ev.Level != models.LevelError || ev.Service != service || ev.Environment != environment {
			continue
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) CreateIncidentIfNoneOpen(_ context.Context, inc models.Incident) (models.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := openKey{service: inc.PrimaryService, environment: inc.Environment}
	if id, ok := s.open[key]; ok {
		return copyIncident(s.incidents[s.incidentIdx[id]]), false, nil
	}

	s.nextIncidentID++
	inc.ID = s.nextIncidentID
	inc.Status = models.StatusOpen
	inc.StartTime = inc.StartTime.UTC()
	inc.EndTime = nil
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	s.incidentIdx[inc.ID] = len(s.incidents)
	s.incidents = append(s.incidents, inc)
	s.open[key] = inc.ID
	return inc, true, nil
}

func (s *MemoryStore) OpenIncidents(_ context.Context, environment string) ([]models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Incident, 0)
	for _, inc := range s.incidents {
		if inc.IsOpen() && inc.Environment == environment {
			out = append(out, copyIncident(inc))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id int64) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.incidentIdx[id]
	if !ok {
		return models.Incident{}, utils.NotFound("store.GetIncident", fmt.Sprintf("incident %d", id))
	}
	return copyIncident(s.incidents[idx]), nil
}

func (s *MemoryStore) ListIncidents(_ context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	s.mu.RLock()
	out := make([]models.Incident, 0)
	for _, inc := range s.incidents {
		if filter.Matches(inc) {
			out = append(out, copyIncident(inc))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ResolveIncident(_ context.Context, id int64) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.incidentIdx[id]
	if !ok {
		return models.Incident{}, utils.NotFound("store.ResolveIncident", fmt.Sprintf("incident %d", id))
	}
	inc := s.incidents[idx]
	if inc.IsOpen() {
		delete(s.open, openKey{service: inc.PrimaryService, environment: inc.Environment})
	}
	inc.Status = models.StatusResolved
	if inc.EndTime == nil {
		var latest time.Time
		found := false
		for _, eventID := range s.byIncident[id] {
			ts := s.events[s.eventIndex[eventID]].Timestamp
			if !found || ts.After(latest) {
				latest, found = ts, true
			}
		}
		if found {
			inc.EndTime = &latest
		}
	}
	s.incidents[idx] = inc
	return copyIncident(inc), nil
}

func (s *MemoryStore) AddCorrelation(_ context.Context, c models.Correlation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidentIdx[c.IncidentID]; !ok {
		return false, utils.NotFound("store.AddCorrelation", fmt.Sprintf("incident %d", c.IncidentID))
	}
	evIdx, ok := s.eventIndex[c.EventID]
	if !ok {
		return false, utils.NotFound("store.AddCorrelation", fmt.Sprintf("event %d", c.EventID))
	}

	key := edgeKey{incidentID: c.IncidentID, eventID: c.EventID}
	if _, exists := s.edges[key]; exists {
		return false, nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.edges[key] = c
	s.byIncident[c.IncidentID] = append(s.byIncident[c.IncidentID], c.EventID)

	if rid := s.events[evIdx].RequestID; rid != "" {
		set, ok := s.requestKeys[c.IncidentID]
		if !ok {
			set = make(map[string]struct{})
			s.requestKeys[c.IncidentID] = set
		}
		set[rid] = struct{}{}
	}
	return true, nil
}

func (s *MemoryStore) HasCorrelatedRequestID(_ context.Context, incidentID int64, requestID string) (bool, error) {
	if requestID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.requestKeys[incidentID][requestID]
	return ok, nil
}

func (s *MemoryStore) Timeline(_ context.Context, incidentID int64) ([]models.TimelineEntry, error) {
	s.mu.RLock()
	ids := s.byIncident[incidentID]
	entries := make([]models.TimelineEntry, 0, len(ids))
	for _, eventID := range ids {
		entries = append(entries, models.TimelineEntry{
			Event:             s.events[s.eventIndex[eventID]],
			CorrelationReason: s.edges[edgeKey{incidentID: incidentID, eventID: eventID}].Reason,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyIncident(inc models.Incident) models.Incident {
	if inc.EndTime != nil {
		end := *inc.EndTime
		inc.EndTime = &end
	}
	return inc
}

var _ Store = (*MemoryStore)(nil)
