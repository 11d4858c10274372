package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/blackbox/internal/models"
)

// Poster publishes one event.
type Poster interface {
	PostEvent(ctx context.Context, ev models.NewEvent) (models.Event, error)
}

// Report summarises one scenario run.
type Report struct {
	Scenario string
	Posted   int
	Failed   int
}

// Runner replays scenarios through a Poster, stamping each event with the
// current UTC time.
type Runner struct {
	Poster Poster
	Out    io.Writer
	Logger *slog.Logger
	// Delay, when positive, replaces every per-step pause.
	Delay time.Duration
	// Between is the pause between scenarios when running several.
	Between time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Token func() string
}

func (r *Runner) defaults() {
	if r.Out == nil {
		r.Out = io.Discard
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Sleep == nil {
		r.Sleep = sleepContext
	}
	if r.Token == nil {
		r.Token = func() string { return strings.SplitN(uuid.NewString(), "-", 2)[0] }
	}
}

// Run replays one scenario. Individual post failures are reported and
// counted; only context cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Report, error) {
	r.defaults()
	report := Report{Scenario: sc.Name}
	fmt.Fprintf(r.Out, "\n=== Scenario: %s ===\n\n", sc.Title)

	for _, step := range sc.Build(r.Token()) {
		ev := models.NewEvent{
			Service:     step.Service,
			Environment: step.Env,
			Level:       step.Level,
			Message:     step.Message,
			RequestID:   step.RequestID,
			Timestamp:   r.Now().UTC(),
		}
		if _, err := r.Poster.PostEvent(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			r.Logger.Warn("post event failed", slog.String("scenario", sc.Name), slog.Any("error", err))
			fmt.Fprintf(r.Out, "✗ Failed to create event: %v\n", err)
		} else {
			report.Posted++
			fmt.Fprintf(r.Out, "✓ Created %s event: %s - %s\n", ev.Level, ev.Service, ev.Message)
		}

		if err := r.Sleep(ctx, r.pause(step)); err != nil {
			return report, err
		}
	}
	fmt.Fprintf(r.Out, "\n✓ %s scenario complete (%d posted, %d failed)\n", sc.Title, report.Posted, report.Failed)
	return report, nil
}

// RunAll replays scenarios in order, pausing Between each.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]Report, error) {
	r.defaults()
	reports := make([]Report, 0, len(scenarios))
	for i, sc := range scenarios {
		if i > 0 {
			if err := r.Sleep(ctx, r.Between); err != nil {
				return reports, err
			}
		}
		rep, err := r.Run(ctx, sc)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (r *Runner) pause(step Step) time.Duration {
	if r.Delay > 0 {
		return r.Delay
	}
	return time.Duration(step.Pause * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
