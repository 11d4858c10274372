package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

// Correlate attaches ev to every open incident in its environment that at
// least one rule matches. It returns only the edges created by this call.
func (e *Engine) Correlate(ctx context.Context, ev models.Event) ([]models.Correlation, error) {
	open, err := e.store.OpenIncidents(ctx, ev.Environment)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}

	var created []models.Correlation
	for _, inc := range open {
		rules, err := e.MatchRules(ctx, inc, ev)
		if err != nil {
			return created, err
		}
		if len(rules) == 0 {
			continue
		}

		edge := models.Correlation{
			IncidentID: inc.ID,
			EventID:    ev.ID,
			Reason:     models.JoinRules(rules),
			CreatedAt:  e.now().UTC(),
		}
		ok, err := e.store.AddCorrelation(ctx, edge)
		if err != nil {
			return created, fmt.Errorf("add correlation: %w", err)
		}
		if !ok {
			continue
		}

		e.requests.Add(inc.ID, ev.RequestID)
		names := make([]string, len(rules))
		for i, r := range rules {
			names[i] = string(r)
		}
		e.recorder.Correlated(names)
		e.logger.Debug("event correlated",
			slog.Int64("incident_id", inc.ID),
			slog.Int64("event_id", ev.ID),
			slog.String("reason", edge.Reason))
		created = append(created, edge)
	}
	return created, nil
}

// MatchRules returns every rule that links ev to inc, in evaluation order.
func (e *Engine) MatchRules(ctx context.Context, inc models.Incident, ev models.Event) ([]models.Rule, error) {
	var matched []models.Rule

	if ev.RequestID != "" {
		shared, err := e.sharesRequestID(ctx, inc.ID, ev.RequestID)
		if err != nil {
			return nil, err
		}
		if shared {
			matched = append(matched, models.RuleSameRequestID)
		}
	}

	if ev.Service == inc.PrimaryService && utils.AbsDuration(ev.Timestamp, inc.StartTime) <= e.cfg.CorrelationWindow {
		matched = append(matched, models.RuleSameServiceWindow)
	}

	if !ev.Timestamp.Before(inc.StartTime) && (inc.EndTime == nil || !ev.Timestamp.After(*inc.EndTime)) {
		matched = append(matched, models.RuleEnvironmentWindow)
	}
	return matched, nil
}

func (e *Engine) sharesRequestID(ctx context.Context, incidentID int64, requestID string) (bool, error) {
	if e.requests.Contains(incidentID, requestID) {
		return true, nil
	}
	shared, err := e.store.HasCorrelatedRequestID(ctx, incidentID, requestID)
	if err != nil {
		return false, fmt.Errorf("lookup request id: %w", err)
	}
	if shared {
		e.requests.Add(incidentID, requestID)
	}
	return shared, nil
}
