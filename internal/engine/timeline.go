package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

// NoEventsSummary is the summary of an incident with an empty timeline.
const NoEventsSummary = "No events correlated to this incident."

// Timeline returns the incident's correlated events, oldest first. Entries
// with no recorded reason are labelled "unknown".
func (e *Engine) Timeline(ctx context.Context, incidentID int64) ([]models.TimelineEntry, error) {
	entries, err := e.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	for i := range entries {
		if strings.TrimSpace(entries[i].CorrelationReason) == "" {
			entries[i].CorrelationReason = models.UnknownCorrelationReason
		}
	}
	return entries, nil
}

// Detail assembles incident fields, timeline, summary and event count.
func (e *Engine) Detail(ctx context.Context, incidentID int64) (models.IncidentDetail, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return models.IncidentDetail{}, err
	}
	timeline, err := e.Timeline(ctx, incidentID)
	if err != nil {
		return models.IncidentDetail{}, err
	}
	return models.IncidentDetail{
		Incident:         inc,
		RootCauseSummary: e.Summarize(inc, timeline),
		Timeline:         timeline,
		EventCount:       len(timeline),
	}, nil
}

// Summarize builds the rule-based root-cause hypothesis for inc from its
// chronological timeline. It never fails.
func (e *Engine) Summarize(inc models.Incident, timeline []models.TimelineEntry) string {
	if len(timeline) == 0 {
		return NoEventsSummary
	}

	var (
		firstError *models.TimelineEntry
		order      []string
		counts     = make(map[string]int)
	)
	for i := range timeline {
		entry := &timeline[i]
		if !entry.IsError() {
			continue
		}
		if firstError == nil {
			firstError = entry
		}
		key := truncateRunes(entry.Message, e.cfg.MessageGroupLength)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	prefix := fmt.Sprintf("The incident likely originated in the %s service ", inc.PrimaryService)
	if firstError == nil {
		return prefix + fmt.Sprintf("starting at %s.", utils.ClockTime(inc.StartTime))
	}

	// Ties go to the earliest group in timeline order.
	common, best := "", 0
	for _, key := range order {
		if counts[key] > best {
			common, best = key, counts[key]
		}
	}
	return prefix + fmt.Sprintf("following repeated '%s' errors starting at %s.", common, utils.ClockTime(firstError.Timestamp))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
