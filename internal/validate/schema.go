// Package validate checks ingest payloads against the event JSON schema
// before anything reaches the store.
package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

//go:embed event.schema.json
var eventSchema string

const schemaURL = "event.schema.json"

// Zone-less timestamps are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// SchemaValidator decodes and validates JSON ingest payloads.
type SchemaValidator struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewSchemaValidator compiles the embedded event schema.
func NewSchemaValidator(logger *slog.Logger) (*SchemaValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: schema, logger: logger}, nil
}

type wireEvent struct {
	Service     string  `json:"service"`
	Environment string  `json:"environment"`
	Level       string  `json:"level"`
	Message     string  `json:"message"`
	RequestID   *string `json:"request_id"`
	Timestamp   string  `json:"timestamp"`
}

// DecodeEvent validates data against the schema and returns the normalised
// payload. Every failure wraps utils.ErrValidation.
func (v *SchemaValidator) DecodeEvent(data []byte) (models.NewEvent, error) {
	const op = "validate.DecodeEvent"

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return models.NewEvent{}, utils.Invalid(op, fmt.Sprintf("malformed JSON: %v", err))
	}
	if err := v.schema.Validate(doc); err != nil {
		v.logger.Debug("event rejected by schema", slog.String("error", err.Error()))
		return models.NewEvent{}, utils.Invalid(op, describe(err))
	}

	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.NewEvent{}, utils.Invalid(op, fmt.Sprintf("decode event: %v", err))
	}
	ts, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return models.NewEvent{}, utils.Invalid(op, err.Error())
	}

	ev := models.NewEvent{
		Service:     wire.Service,
		Environment: wire.Environment,
		Level:       models.Level(wire.Level),
		Message:     wire.Message,
		Timestamp:   ts,
	}
	if wire.RequestID != nil {
		ev.RequestID = *wire.RequestID
	}
	ev = ev.Normalize()
	if err := ev.Validate(); err != nil {
		return models.NewEvent{}, err
	}
	return ev, nil
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO 8601 timestamps.
func ParseTimestamp(value string) (time.Time, error) {
	if t, err := utils.ParseRFC3339(value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO 8601", value)
}

// describe flattens a schema error into "location: message" pairs.
func describe(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}
