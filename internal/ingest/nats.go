// Package ingest receives threat classifications from the collector
// pipeline over NATS and admits them into working memory.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/threat"
)

// Config holds the NATS subscription settings.
type Config struct {
	URL        string
	Subject    string
	QueueGroup string

	MaxReconnects int
	ReconnectWait time.Duration
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.Subject == "" {
		c.Subject = "threats.classified"
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "recall-ingest"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = time.Second
	}
	return nil
}

// threatMessage is the wire shape the classifier publishes.
type threatMessage struct {
	ThreatID string            `json:"threat_id"`
	Content  string            `json:"content"`
	Severity string            `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Subscriber feeds classified threats from NATS into the memory service.
// Malformed messages are logged and dropped; the subject carries
// classifier output, so a bad payload is an upstream bug, not ours to
// retry.
type Subscriber struct {
	cfg    Config
	svc    *memory.Service
	logger log.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewSubscriber validates cfg and prepares a subscriber. Start connects.
func NewSubscriber(cfg Config, svc *memory.Service, logger log.Logger) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Subscriber{cfg: cfg, svc: svc, logger: logger}, nil
}

// Start connects to NATS and begins consuming. The queue group spreads
// the subject across replicas.
func (s *Subscriber) Start(ctx context.Context) error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.MaxReconnects(s.cfg.MaxReconnects),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn(ctx, "nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info(ctx, "nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
		s.handle(ctx, msg.Data)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.logger.Info(ctx, "ingesting threats from nats",
		"subject", s.cfg.Subject,
		"queue_group", s.cfg.QueueGroup,
	)
	return nil
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	var msg threatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn(ctx, "dropping malformed threat message", "error", err.Error())
		return
	}
	severity, err := threat.ParseSeverity(msg.Severity)
	if err != nil {
		s.logger.Warn(ctx, "dropping threat with unknown severity",
			"threat_id", msg.ThreatID,
			"severity", msg.Severity,
		)
		return
	}
	if _, err := s.svc.AddThreat(ctx, msg.ThreatID, msg.Content, severity, msg.Metadata); err != nil {
		s.logger.Error(ctx, err, "admit threat failed", "threat_id", msg.ThreatID)
	}
}

// Close drains the subscription and closes the connection. Draining lets
// in-flight handlers finish before the connection drops.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
