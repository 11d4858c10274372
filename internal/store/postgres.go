package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// PostgresStore persists events and incidents in PostgreSQL. The partial
// unique index on open incidents and the (incident_id, event_id) unique
// constraint make detection and correlation safe across replicas.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a pool, pings it and optionally applies the schema.
func NewPostgresStore(ctx context.Context, opts PostgresOptions, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if opts.Migrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("database schema applied")
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e models.NewEvent) (models.Event, error) {
	const query = `
		INSERT INTO events (service, environment, level, message, request_id, timestamp, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, service, environment, level, message, request_id, timestamp, received_at`

	row := s.db.QueryRowContext(ctx, query,
		e.Service, e.Environment, string(e.Level), e.Message, nullString(e.RequestID), e.Timestamp.UTC())
	ev, err := scanEvent(row)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Service != "" {
		add("service = $%d", filter.Service)
	}
	if filter.Environment != "" {
		add("environment = $%d", filter.Environment)
	}
	if filter.Level != "" {
		add("level = $%d", string(filter.Level))
	}

	query := `SELECT id, service, environment, level, message, request_id, timestamp, received_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) CountErrors(ctx context.Context, service, environment string, from, to time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM events
		WHERE service = $1 AND environment = $2 AND level = 'error'
		  AND timestamp >= $3 AND timestamp <= $4`

	var count int
	if err := s.db.QueryRowContext(ctx, query, service, environment, from.UTC(), to.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count errors: %w", err)
	}
	return count, nil
}

const incidentColumns = `id, primary_service, environment, start_time, end_time, severity, status, created_at`

func (s *PostgresStore) CreateIncidentIfNoneOpen(ctx context.Context, inc models.Incident) (models.Incident, bool, error) {
	const insert = `
		INSERT INTO incidents (primary_service, environment, start_time, severity, status)
		VALUES ($1, $2, $3, $4, 'open')
		ON CONFLICT (primary_service, environment) WHERE status = 'open' DO NOTHING
		RETURNING ` + incidentColumns
	const existing = `SELECT ` + incidentColumns + ` FROM incidents
		WHERE primary_service = $1 AND environment = $2 AND status = 'open'`

	// A concurrent resolve can close the conflicting incident between the
	// insert and the lookup; one more insert attempt settles it.
	for attempt := 0; attempt < 2; attempt++ {
		row := s.db.QueryRowContext(ctx, insert, inc.PrimaryService, inc.Environment, inc.StartTime.UTC(), string(inc.Severity))
		created, err := scanIncident(row)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) && !isUniqueViolation(err) {
			return models.Incident{}, false, fmt.Errorf("insert incident: %w", err)
		}

		open, err := scanIncident(s.db.QueryRowContext(ctx, existing, inc.PrimaryService, inc.Environment))
		if err == nil {
			return open, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Incident{}, false, fmt.Errorf("lookup open incident: %w", err)
		}
	}
	return models.Incident{}, false, utils.NewAppError("store.CreateIncidentIfNoneOpen",
		fmt.Sprintf("open incident for %s/%s kept changing", inc.PrimaryService, inc.Environment), utils.ErrConflict)
}

func (s *PostgresStore) OpenIncidents(ctx context.Context, environment string) ([]models.Incident, error) {
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE status = 'open' AND environment = $1 ORDER BY id ASC`, environment)
}

func (s *PostgresStore) GetIncident(ctx context.Context, id int64) (models.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, utils.NotFound("store.GetIncident", fmt.Sprintf("incident %d", id))
	}
	if err != nil {
		return models.Incident{}, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Environment != "" {
		args = append(args, filter.Environment)
		where = append(where, fmt.Sprintf("environment = $%d", len(args)))
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id DESC"
	return s.queryIncidents(ctx, query, args...)
}

func (s *PostgresStore) ResolveIncident(ctx context.Context, id int64) (models.Incident, error) {
	const query = `
		UPDATE incidents SET
			status = 'resolved',
			end_time = COALESCE(end_time, (
				SELECT MAX(e.timestamp) FROM incident_events ie
				JOIN events e ON e.id = ie.event_id
				WHERE ie.incident_id = $1))
		WHERE id = $1
		RETURNING ` + incidentColumns

	inc, err := scanIncident(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, utils.NotFound("store.ResolveIncident", fmt.Sprintf("incident %d", id))
	}
	if err != nil {
		return models.Incident{}, fmt.Errorf("resolve incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) AddCorrelation(ctx context.Context, c models.Correlation) (bool, error) {
	const query = `
		INSERT INTO incident_events (incident_id, event_id, correlation_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (incident_id, event_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, c.IncidentID, c.EventID, c.Reason)
	if err != nil {
		return false, fmt.Errorf("insert correlation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("correlation rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) HasCorrelatedRequestID(ctx context.Context, incidentID int64, requestID string) (bool, error) {
	if requestID == "" {
		return false, nil
	}
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM incident_events ie
			JOIN events e ON e.id = ie.event_id
			WHERE ie.incident_id = $1 AND e.request_id = $2)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, incidentID, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup correlated request id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Timeline(ctx context.Context, incidentID int64) ([]models.TimelineEntry, error) {
	const query = `
		SELECT e.id, e.service, e.environment, e.level, e.message, e.request_id, e.timestamp, e.received_at,
		       ie.correlation_reason
		FROM incident_events ie
		JOIN events e ON e.id = ie.event_id
		WHERE ie.incident_id = $1
		ORDER BY e.timestamp ASC, e.id ASC`

	rows, err := s.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]models.TimelineEntry, 0)
	for rows.Next() {
		var (
			entry models.TimelineEntry
			level string
			rid   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Service, &entry.Environment, &level, &entry.Message, &rid,
			&entry.Timestamp, &entry.ReceivedAt, &entry.CorrelationReason); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entry.Level = models.Level(level)
		entry.RequestID = rid.String
		entry.Timestamp = entry.Timestamp.UTC()
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) queryIncidents(ctx context.Context, query string, args ...any) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]models.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (models.Event, error) {
	var (
		ev    models.Event
		level string
		rid   sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.Service, &ev.Environment, &level, &ev.Message, &rid, &ev.Timestamp, &ev.ReceivedAt); err != nil {
		return models.Event{}, err
	}
	ev.Level = models.Level(level)
	ev.RequestID = rid.String
	ev.Timestamp = ev.Timestamp.UTC()
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return ev, nil
}

func scanIncident(row scanner) (models.Incident, error) {
	var (
		inc      models.Incident
		end      sql.NullTime
		severity sql.NullString
		status   string
	)
	if err := row.Scan(&inc.ID, &inc.PrimaryService, &inc.Environment, &inc.StartTime, &end, &severity, &status, &inc.CreatedAt); err != nil {
		return models.Incident{}, err
	}
	inc.StartTime = inc.StartTime.UTC()
	inc.CreatedAt = inc.CreatedAt.UTC()
	if end.Valid {
		t := end.Time.UTC()
		inc.EndTime = &t
	}
	inc.Severity = models.Severity(severity.String)
	inc.Status = models.Status(status)
	return inc, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var _ Store = (*PostgresStore)(nil)
