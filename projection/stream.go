// Package projection delivers persisted events to read-model updaters over
// JetStream, restoring tenant context and tracing before each updater runs.
package projection

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamEvents is the durable stream capturing all domain events.
	StreamEvents = "EAF_EVENTS"
	// SubjectEvents is the wildcard subject hierarchy for domain events.
	SubjectEvents = "events.>"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// Close drains and closes the underlying NATS connection. Drain flushes
// pending publish acknowledgments and outstanding deliveries before closing;
// plain Close would drop in-flight messages.
func (c *Client) Close() {
	if c.Conn != nil {
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}

// ProvisionStreams idempotently creates the required JetStream streams.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamEvents)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", StreamEvents))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamEvents,
		Subjects:  []string{SubjectEvents},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}
	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamEvents))
	return nil
}
