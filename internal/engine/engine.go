// Package engine implements deterministic incident detection and event
// correlation over the event and incident stores.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/blackbox/internal/cache"
	"github.com/miradorstack/blackbox/internal/metrics"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/store"
)

// Config holds detection and correlation thresholds.
type Config struct {
	// ErrorThreshold is the error count within DetectionWindow that opens an incident.
	ErrorThreshold int
	// HighSeverityThreshold promotes a new incident to high severity.
	HighSeverityThreshold int
	DetectionWindow       time.Duration
	// CorrelationWindow bounds |event.timestamp - incident.start_time| for
	// same-service correlation.
	CorrelationWindow time.Duration
	// MessageGroupLength is the rune prefix used to group error messages in
	// the root-cause summary.
	MessageGroupLength int
	// RequestIndexSize bounds the cache of correlated request ids. Zero disables it.
	RequestIndexSize int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:        5,
		HighSeverityThreshold: 10,
		DetectionWindow:       3 * time.Minute,
		CorrelationWindow:     10 * time.Minute,
		MessageGroupLength:    100,
		RequestIndexSize:      4096,
	}
}

// Validate rejects thresholds the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ErrorThreshold <= 0 {
		errs = append(errs, errors.New("error threshold must be positive"))
	}
	if c.HighSeverityThreshold <= 0 {
		errs = append(errs, errors.New("high severity threshold must be positive"))
	}
	if c.DetectionWindow <= 0 {
		errs = append(errs, errors.New("detection window must be positive"))
	}
	if c.CorrelationWindow <= 0 {
		errs = append(errs, errors.New("correlation window must be positive"))
	}
	if c.MessageGroupLength <= 0 {
		errs = append(errs, errors.New("message group length must be positive"))
	}
	return errors.Join(errs...)
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for detection windows and edge timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocker sets the lock guarding detect-then-create.
func WithLocker(locker cache.Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(rec metrics.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// Engine is stateless between calls apart from the request-id cache; all
// authoritative state lives in the store.
type Engine struct {
	store    store.Store
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	locker   cache.Locker
	recorder metrics.Recorder
	requests *cache.RequestIndex
}

// New constructs an engine over st.
func New(st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	requests, err := cache.NewRequestIndex(cfg.RequestIndexSize)
	if err != nil {
		return nil, fmt.Errorf("request index: %w", err)
	}

	e := &Engine{
		store:    st,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		locker:   cache.NewLocalLocker(),
		recorder: metrics.Noop{},
		requests: requests,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the thresholds the engine runs with.
func (e *Engine) Config() Config { return e.cfg }

// ProcessResult reports what one ingested event changed.
type ProcessResult struct {
	Opened       *models.Incident
	Correlations []models.Correlation
}

// Process runs detection (error events only) then correlation for a
// persisted event. Re-running it for the same event creates nothing new.
func (e *Engine) Process(ctx context.Context, ev models.Event) (ProcessResult, error) {
	var result ProcessResult
	if ev.IsError() {
		opened, err := e.DetectIncident(ctx, ev.Service, ev.Environment)
		if err != nil {
			return result, err
		}
		result.Opened = opened
	}

	correlations, err := e.Correlate(ctx, ev)
	if err != nil {
		return result, err
	}
	result.Correlations = correlations
	return result, nil
}

// Resolve closes an incident manually. Resolving twice keeps the first end_time.
func (e *Engine) Resolve(ctx context.Context, incidentID int64) (models.Incident, error) {
	inc, err := e.store.ResolveIncident(ctx, incidentID)
	if err != nil {
		return models.Incident{}, err
	}
	e.recorder.IncidentResolved()
	e.logger.Info("incident resolved",
		slog.Int64("incident_id", inc.ID),
		slog.String("service", inc.PrimaryService),
		slog.String("environment", inc.Environment))
	return inc, nil
}
