package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/blackbox/internal/cache"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/store"
	"github.com/miradorstack/blackbox/internal/utils"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu       sync.Mutex
	opened   []string
	resolved int
	rules    map[string]int
}

func (f *fakeRecorder) IncidentOpened(severity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, severity)
}

func (f *fakeRecorder) IncidentResolved() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
}

func (f *fakeRecorder) Correlated(rules []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rules == nil {
		f.rules = make(map[string]int)
	}
	for _, r := range rules {
		f.rules[r]++
	}
}

// fataler is the subset of testing.TB that *rapid.T also provides.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

type harness struct {
	store    *store.MemoryStore
	engine   *Engine
	recorder *fakeRecorder
}

func newHarness(t fataler, cfg Config) *harness {
	t.Helper()
	clock := func() time.Time { return now }
	st := store.NewMemoryStore(clock)
	rec := &fakeRecorder{}
	eng, err := New(st, cfg,
		WithClock(clock),
		WithLogger(utils.DiscardLogger()),
		WithRecorder(rec))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{store: st, engine: eng, recorder: rec}
}

func (h *harness) ingest(t fataler, e models.NewEvent) (models.Event, ProcessResult) {
	t.Helper()
	ev, err := h.store.AppendEvent(context.Background(), e)
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	res, err := h.engine.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("process event %d: %v", ev.ID, err)
	}
	return ev, res
}

func event(service, env string, level models.Level, msg, rid string, at time.Time) models.NewEvent {
	return models.NewEvent{Service: service, Environment: env, Level: level, Message: msg, RequestID: rid, Timestamp: at}
}

func errorAt(service, env, rid string, ago time.Duration) models.NewEvent {
	return event(service, env, models.LevelError, "Database timeout after 30s", rid, now.Add(-ago))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 0
	_, err := New(store.NewMemoryStore(nil), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error threshold")

	_, err = New(nil, DefaultConfig())
	require.Error(t, err)
}

func TestScenarioFiveErrorsOpenMediumIncident(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	var opened *models.Incident
	for i := 0; i < 5; i++ {
		_, res := h.ingest(t, errorAt("payments", "prod", "", time.Duration(4-i)*30*time.Second))
		if res.Opened != nil {
			require.Nil(t, opened, "only one crossing may open an incident")
			opened = res.Opened
		}
		if i < 4 {
			assert.Nil(t, res.Opened, "threshold not yet reached at event %d", i+1)
		}
	}

	require.NotNil(t, opened)
	assert.Equal(t, models.SeverityMedium, opened.Severity)
	assert.Equal(t, models.StatusOpen, opened.Status)
	assert.True(t, opened.StartTime.Equal(now.Add(-3*time.Minute)), "start_time is the window start")
	assert.Equal(t, []string{"medium"}, h.recorder.opened)

	// The triggering event is correlated immediately.
	timeline, err := h.engine.Timeline(context.Background(), opened.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, "same_service_time_window, environment_incident_window", timeline[0].CorrelationReason)
}

func TestScenarioTenErrorsOpenHighIncident(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	// A burst that lands in the store before detection runs, as with
	// concurrent ingest, sees all ten errors at once.
	var last models.Event
	for i := 0; i < 10; i++ {
		ev, err := h.store.AppendEvent(ctx, errorAt("payments", "prod", "", time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		last = ev
	}
	res, err := h.engine.Process(ctx, last)
	require.NoError(t, err)
	require.NotNil(t, res.Opened)
	assert.Equal(t, models.SeverityHigh, res.Opened.Severity)
}

func TestSeverityIsFixedAtCreation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < 12; i++ {
		h.ingest(t, errorAt("payments", "prod", "", time.Duration(i)*time.Second))
	}
	open, err := h.store.OpenIncidents(context.Background(), "prod")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.SeverityMedium, open[0].Severity)
}

func TestDetectionIgnoresErrorsOutsideWindow(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < 4; i++ {
		h.ingest(t, errorAt("payments", "prod", "", 5*time.Minute))
	}
	_, res := h.ingest(t, errorAt("payments", "prod", "", 0))
	assert.Nil(t, res.Opened)

	// Warnings never count towards the burst.
	for i := 0; i < 6; i++ {
		h.ingest(t, event("payments", "prod", models.LevelWarning, "pool at 80%", "", now))
	}
	open, err := h.store.OpenIncidents(context.Background(), "prod")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 2
	cfg.HighSeverityThreshold = 3
	h := newHarness(t, cfg)

	h.ingest(t, errorAt("auth", "prod", "", time.Second))
	_, res := h.ingest(t, errorAt("auth", "prod", "", 0))
	require.NotNil(t, res.Opened)
	assert.Equal(t, models.SeverityMedium, res.Opened.Severity)
}

func TestScenarioSharedRequestIDAcrossServices(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 1; i <= 5; i++ {
		h.ingest(t, errorAt("payments", "prod", "req_x", time.Duration(6-i)*10*time.Second))
	}
	payments, res := h.ingest(t, errorAt("payments", "prod", "req1", 0))
	require.Len(t, res.Correlations, 1)
	first := res.Correlations[0]

	orders, res := h.ingest(t, event("orders", "prod", models.LevelError, "Payment service unreachable", "req1", now))
	require.Len(t, res.Correlations, 1)
	assert.Equal(t, "same_request_id, environment_incident_window", res.Correlations[0].Reason)
	assert.Equal(t, first.IncidentID, res.Correlations[0].IncidentID)

	again, res := h.ingest(t, errorAt("payments", "prod", "req1", 0))
	require.Len(t, res.Correlations, 1)
	assert.Contains(t, res.Correlations[0].Reason, string(models.RuleSameRequestID))

	timeline, err := h.engine.Timeline(context.Background(), first.IncidentID)
	require.NoError(t, err)
	ids := map[int64]bool{}
	for _, entry := range timeline {
		ids[entry.ID] = true
	}
	assert.True(t, ids[payments.ID] && ids[orders.ID] && ids[again.ID])
}

func TestScenarioEnvironmentIsolation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		h.ingest(t, errorAt("payments", "prod", "req_1", time.Duration(i)*time.Second))
	}
	_, res := h.ingest(t, event("payments", "staging", models.LevelError, "Test database connection failed", "req_1", now))
	assert.Empty(t, res.Correlations)
	assert.Nil(t, res.Opened)
}

func TestRequestIDCacheFallsBackToStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestIndexSize = 0
	h := newHarness(t, cfg)
	for i := 0; i < 5; i++ {
		h.ingest(t, errorAt("payments", "prod", "req_1", time.Duration(i)*time.Second))
	}
	_, res := h.ingest(t, event("orders", "prod", models.LevelError, "Payment service unreachable", "req_1", now))
	require.Len(t, res.Correlations, 1)
	assert.True(t, strings.HasPrefix(res.Correlations[0].Reason, string(models.RuleSameRequestID)))
}

func TestMatchRulesEdges(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	start := now.Add(-3 * time.Minute)
	end := now
	inc := models.Incident{ID: 1, PrimaryService: "payments", Environment: "prod", StartTime: start, Status: models.StatusOpen}

	cases := []struct {
		name string
		inc  models.Incident
		ev   models.Event
		want []models.Rule
	}{
		{"same service before start", inc,
			models.Event{Service: "payments", Timestamp: start.Add(-10 * time.Minute)},
			[]models.Rule{models.RuleSameServiceWindow}},
		{"same service just outside", inc,
			models.Event{Service: "payments", Timestamp: start.Add(-10*time.Minute - time.Second)},
			nil},
		{"other service at start", inc,
			models.Event{Service: "orders", Timestamp: start},
			[]models.Rule{models.RuleEnvironmentWindow}},
		{"after end_time", models.Incident{ID: 1, PrimaryService: "payments", StartTime: start, EndTime: &end},
			models.Event{Service: "orders", Timestamp: end.Add(time.Second)},
			nil},
		{"at end_time", models.Incident{ID: 1, PrimaryService: "payments", StartTime: start, EndTime: &end},
			models.Event{Service: "orders", Timestamp: end},
			[]models.Rule{models.RuleEnvironmentWindow}},
		{"unknown request id", inc,
			models.Event{Service: "orders", RequestID: "nope", Timestamp: start.Add(-time.Hour)},
			nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.engine.MatchRules(ctx, tc.inc, tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	var last models.Event
	for i := 0; i < 5; i++ {
		last, _ = h.ingest(t, errorAt("payments", "prod", "", time.Duration(i)*time.Second))
	}
	for i := 0; i < 3; i++ {
		res, err := h.engine.Process(context.Background(), last)
		require.NoError(t, err)
		assert.Nil(t, res.Opened)
		assert.Empty(t, res.Correlations)
	}
}

func TestResolveScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	var incidentID int64
	for i := 0; i < 5; i++ {
		_, res := h.ingest(t, errorAt("payments", "prod", "", time.Duration(4-i)*10*time.Second))
		if res.Opened != nil {
			incidentID = res.Opened.ID
		}
	}
	latest, _ := h.ingest(t, event("orders", "prod", models.LevelWarning, "retrying", "", now.Add(2*time.Minute)))
	h.ingest(t, event("orders", "prod", models.LevelInfo, "older", "", now.Add(-time.Minute)))

	resolved, err := h.engine.Resolve(ctx, incidentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.EndTime)
	assert.True(t, resolved.EndTime.Equal(latest.Timestamp))
	assert.Equal(t, 1, h.recorder.resolved)

	again, err := h.engine.Resolve(ctx, incidentID)
	require.NoError(t, err)
	assert.True(t, again.EndTime.Equal(*resolved.EndTime))

	// Resolved incidents no longer collect events; a new burst opens a new one.
	_, res := h.ingest(t, errorAt("payments", "prod", "", 0))
	require.NotNil(t, res.Opened)
	assert.NotEqual(t, incidentID, res.Opened.ID)
}

func TestResolveUnknownIncident(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.engine.Resolve(context.Background(), 77)
	assert.True(t, utils.IsNotFound(err))
	_, err = h.engine.Detail(context.Background(), 77)
	assert.True(t, utils.IsNotFound(err))
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string) (cache.Release, error) {
	return nil, cache.ErrLockTimeout
}
func (failingLocker) Close() error { return nil }

func TestDetectionLockFailureSurfaces(t *testing.T) {
	st := store.NewMemoryStore(nil)
	eng, err := New(st, DefaultConfig(), WithLocker(failingLocker{}), WithLogger(utils.DiscardLogger()))
	require.NoError(t, err)
	ev, err := st.AppendEvent(context.Background(), errorAt("payments", "prod", "", 0))
	require.NoError(t, err)

	_, err = eng.Process(context.Background(), ev)
	assert.True(t, errors.Is(err, cache.ErrLockTimeout))
}

func TestDetectKeyKeepsPairsApart(t *testing.T) {
	assert.NotEqual(t, detectKey("a:b", "c"), detectKey("a", "b:c"))
	assert.Equal(t, "detect:8:payments:prod", detectKey("payments", "prod"))
}

// conflictStore reports a lost uniqueness race on every create.
type conflictStore struct {
	*store.MemoryStore
}

func (conflictStore) CreateIncidentIfNoneOpen(context.Context, models.Incident) (models.Incident, bool, error) {
	return models.Incident{}, false, utils.NewAppError("test", "lost race", utils.ErrConflict)
}

func TestConflictIsNoOp(t *testing.T) {
	st := conflictStore{store.NewMemoryStore(func() time.Time { return now })}
	eng, err := New(st, DefaultConfig(), WithClock(func() time.Time { return now }), WithLogger(utils.DiscardLogger()))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		ev, err := st.AppendEvent(context.Background(), errorAt("payments", "prod", "", 0))
		require.NoError(t, err)
		res, err := eng.Process(context.Background(), ev)
		require.NoError(t, err)
		assert.Nil(t, res.Opened)
	}
}
