package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

var (
	services     = []string{"payments", "orders", "auth-service"}
	environments = []string{"prod", "staging"}
	requestIDs   = []string{"", "req_1", "req_2", "req_3"}
	levels       = []models.Level{models.LevelInfo, models.LevelWarning, models.LevelError}
)

func drawEvent(t *rapid.T, label string) models.NewEvent {
	ago := rapid.IntRange(-120, 900).Draw(t, label+"_ago_s")
	return models.NewEvent{
		Service:     rapid.SampledFrom(services).Draw(t, label+"_service"),
		Environment: rapid.SampledFrom(environments).Draw(t, label+"_env"),
		Level:       rapid.SampledFrom(levels).Draw(t, label+"_level"),
		Message:     fmt.Sprintf("failure %d", rapid.IntRange(0, 3).Draw(t, label+"_msg")),
		RequestID:   rapid.SampledFrom(requestIDs).Draw(t, label+"_rid"),
		Timestamp:   now.Add(-time.Duration(ago) * time.Second),
	}
}

func TestPropertyBurstOpensExactlyOneIncident(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		cfg.ErrorThreshold = rapid.IntRange(1, 8).Draw(t, "threshold")
		n := rapid.IntRange(cfg.ErrorThreshold, cfg.ErrorThreshold*3).Draw(t, "n")
		h := newHarness(t, cfg)

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			ago := time.Duration(rapid.IntRange(0, 180).Draw(t, fmt.Sprintf("ago_%d", i))) * time.Second
			wg.Add(1)
			go func(ago time.Duration) {
				defer wg.Done()
				ctx := context.Background()
				ev, err := h.store.AppendEvent(ctx, errorAt("payments", "prod", "", ago))
				if err != nil {
					errs <- err
					return
				}
				if _, err := h.engine.Process(ctx, ev); err != nil {
					errs <- err
				}
			}(ago)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("ingest: %v", err)
		}

		open, err := h.store.OpenIncidents(context.Background(), "prod")
		if err != nil {
			t.Fatalf("open incidents: %v", err)
		}
		if len(open) != 1 {
			t.Fatalf("expected exactly one open incident for %d errors (threshold %d), got %d", n, cfg.ErrorThreshold, len(open))
		}
		if len(h.recorder.opened) != 1 {
			t.Fatalf("expected one opened notification, got %d", len(h.recorder.opened))
		}
	})
}

// oracle recomputes the rules for (inc, ev) from first principles.
func oracle(cfg Config, inc models.Incident, ev models.Event, correlatedRIDs map[string]bool) []models.Rule {
	var rules []models.Rule
	if ev.RequestID != "" && correlatedRIDs[ev.RequestID] {
		rules = append(rules, models.RuleSameRequestID)
	}
	if ev.Service == inc.PrimaryService && utils.AbsDuration(ev.Timestamp, inc.StartTime) <= cfg.CorrelationWindow {
		rules = append(rules, models.RuleSameServiceWindow)
	}
	if !ev.Timestamp.Before(inc.StartTime) && (inc.EndTime == nil || !ev.Timestamp.After(*inc.EndTime)) {
		rules = append(rules, models.RuleEnvironmentWindow)
	}
	return rules
}

func TestPropertyCorrelationReasonsAreExact(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		cfg.ErrorThreshold = rapid.IntRange(1, 4).Draw(t, "threshold")
		h := newHarness(t, cfg)
		ctx := context.Background()

		// incident id -> request ids already on its timeline
		rids := make(map[int64]map[string]bool)
		count := rapid.IntRange(1, 40).Draw(t, "events")
		for i := 0; i < count; i++ {
			ev, err := h.store.AppendEvent(ctx, drawEvent(t, fmt.Sprintf("e%d", i)))
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if ev.IsError() {
				if _, err := h.engine.DetectIncident(ctx, ev.Service, ev.Environment); err != nil {
					t.Fatalf("detect: %v", err)
				}
			}

			open, err := h.store.OpenIncidents(ctx, ev.Environment)
			if err != nil {
				t.Fatalf("open incidents: %v", err)
			}
			want := make(map[int64]string)
			for _, inc := range open {
				if rules := oracle(cfg, inc, ev, rids[inc.ID]); len(rules) > 0 {
					want[inc.ID] = models.JoinRules(rules)
				}
			}

			created, err := h.engine.Correlate(ctx, ev)
			if err != nil {
				t.Fatalf("correlate: %v", err)
			}
			got := make(map[int64]string)
			for _, c := range created {
				got[c.IncidentID] = c.Reason
				if rids[c.IncidentID] == nil {
					rids[c.IncidentID] = make(map[string]bool)
				}
				if ev.RequestID != "" {
					rids[c.IncidentID][ev.RequestID] = true
				}
			}
			if len(got) != len(want) {
				t.Fatalf("event %d: expected edges %v, got %v", ev.ID, want, got)
			}
			for id, reason := range want {
				if got[id] != reason {
					t.Fatalf("event %d incident %d: expected reason %q, got %q", ev.ID, id, reason, got[id])
				}
			}

			// A second pass over the same event never adds edges.
			again, err := h.engine.Correlate(ctx, ev)
			if err != nil {
				t.Fatalf("re-correlate: %v", err)
			}
			if len(again) != 0 {
				t.Fatalf("event %d correlated twice: %v", ev.ID, again)
			}
		}
	})
}

func TestPropertyTimelineSortedAndResolveStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		cfg.ErrorThreshold = 1
		h := newHarness(t, cfg)
		ctx := context.Background()

		count := rapid.IntRange(1, 30).Draw(t, "events")
		for i := 0; i < count; i++ {
			ev := drawEvent(t, fmt.Sprintf("e%d", i))
			ev.Environment = "prod"
			h.ingest(t, ev)
		}

		incidents, err := h.store.ListIncidents(ctx, models.IncidentFilter{})
		if err != nil {
			t.Fatalf("list incidents: %v", err)
		}
		for _, inc := range incidents {
			detail, err := h.engine.Detail(ctx, inc.ID)
			if err != nil {
				t.Fatalf("detail: %v", err)
			}
			if !sort.SliceIsSorted(detail.Timeline, func(i, j int) bool {
				return detail.Timeline[i].Timestamp.Before(detail.Timeline[j].Timestamp)
			}) {
				t.Fatalf("timeline for incident %d not sorted", inc.ID)
			}
			if detail.EventCount != len(detail.Timeline) {
				t.Fatalf("event count %d != timeline length %d", detail.EventCount, len(detail.Timeline))
			}
			if len(detail.Timeline) == 0 && detail.RootCauseSummary != NoEventsSummary {
				t.Fatalf("unexpected summary for empty timeline: %q", detail.RootCauseSummary)
			}

			first, err := h.engine.Resolve(ctx, inc.ID)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			second, err := h.engine.Resolve(ctx, inc.ID)
			if err != nil {
				t.Fatalf("resolve again: %v", err)
			}
			switch {
			case first.EndTime == nil && second.EndTime == nil:
			case first.EndTime == nil || second.EndTime == nil || !first.EndTime.Equal(*second.EndTime):
				t.Fatalf("end_time changed on repeat resolve: %v -> %v", first.EndTime, second.EndTime)
			}
		}
	})
}
