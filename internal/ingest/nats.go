// Package ingest feeds events published on NATS into the incident service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/blackbox/internal/config"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

const handleTimeout = 10 * time.Second

// Ingester accepts raw JSON event payloads.
type Ingester interface {
	IngestJSON(ctx context.Context, data []byte) (models.IngestResult, error)
}

// Subscriber is a queue subscription on the ingest subject. Replicas sharing
// a queue group split the stream between them.
type Subscriber struct {
	cfg      config.NATSConfig
	nc       *nats.Conn
	sub      *nats.Subscription
	ingester Ingester
	logger   *slog.Logger
	ctx      context.Context
}

// NewSubscriber connects to cfg.URL. Call Start to begin consuming.
func NewSubscriber(cfg config.NATSConfig, ingester Ingester, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("blackbox-ingest"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return &Subscriber{cfg: cfg, nc: nc, ingester: ingester, logger: logger, ctx: context.Background()}, nil
}

// Start subscribes on the configured subject and queue group. Messages are
// handled with a context derived from ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.nc == nil {
		return errors.New("ingest: subscriber not connected")
	}
	s.ctx = ctx
	sub, err := s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to event stream",
		slog.String("subject", s.cfg.Subject),
		slog.String("queue", s.cfg.Queue))
	return nil
}

// Close drains in-flight messages and closes the connection.
func (s *Subscriber) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (s *Subscriber) onMessage(msg *nats.Msg) {
	reply := s.handleMessage(s.ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("nats reply failed", slog.String("reply", msg.Reply), slog.Any("error", err))
	}
}

type errorReply struct {
	Error string `json:"error"`
}

// handleMessage ingests one payload and returns the reply body: the stored
// event, or an error document.
func (s *Subscriber) handleMessage(parent context.Context, data []byte) []byte {
	ctx, cancel := context.WithTimeout(parent, handleTimeout)
	defer cancel()

	result, err := s.ingester.IngestJSON(ctx, data)
	if err != nil {
		if utils.IsValidation(err) {
			s.logger.Warn("dropping invalid event", slog.Any("error", err))
		} else {
			s.logger.Error("event ingest failed", slog.Any("error", err))
		}
		return mustJSON(errorReply{Error: err.Error()})
	}
	s.logger.Debug("event ingested from nats",
		slog.Int64("event_id", result.Event.ID),
		slog.String("service", result.Event.Service))
	return mustJSON(result.Event)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"encode reply"}`)
	}
	return b
}
