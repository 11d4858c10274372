package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/miradorstack/blackbox/internal/utils"
)

// Level is the severity a service attached to an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Event is an immutable record of something a service observed.
type Event struct {
	ID          int64     `json:"id"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ReceivedAt  time.Time `json:"received_at"`
}

// IsError reports whether the event counts towards burst detection.
func (e Event) IsError() bool { return e.Level == LevelError }

// Column widths of the events table, counted in characters.
const (
	MaxServiceLength     = 255
	MaxEnvironmentLength = 50
	MaxRequestIDLength   = 255
)

// NewEvent is an ingest payload before the store assigns id and received_at.
type NewEvent struct {
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Normalize trims identifiers and pins the timestamp to UTC.
func (e NewEvent) Normalize() NewEvent {
	e.Service = strings.TrimSpace(e.Service)
	e.Environment = strings.TrimSpace(e.Environment)
	e.Level = Level(strings.ToLower(strings.TrimSpace(string(e.Level))))
	e.RequestID = strings.TrimSpace(e.RequestID)
	e.Timestamp = e.Timestamp.UTC()
	return e
}

// Validate rejects payloads that must never reach the store. An empty
// message is allowed.
func (e NewEvent) Validate() error {
	const op = "models.NewEvent.Validate"
	switch {
	case strings.TrimSpace(e.Service) == "":
		return utils.Invalid(op, "service is required")
	case utf8.RuneCountInString(e.Service) > MaxServiceLength:
		return utils.Invalid(op, fmt.Sprintf("service must be at most %d characters", MaxServiceLength))
	case strings.TrimSpace(e.Environment) == "":
		return utils.Invalid(op, "environment is required")
	case utf8.RuneCountInString(e.Environment) > MaxEnvironmentLength:
		return utils.Invalid(op, fmt.Sprintf("environment must be at most %d characters", MaxEnvironmentLength))
	case utf8.RuneCountInString(e.RequestID) > MaxRequestIDLength:
		return utils.Invalid(op, fmt.Sprintf("request_id must be at most %d characters", MaxRequestIDLength))
	case !e.Level.Valid():
		return utils.Invalid(op, fmt.Sprintf("level %q must be one of info, warning, error", e.Level))
	case e.Timestamp.IsZero():
		return utils.Invalid(op, "timestamp is required")
	}
	return nil
}
