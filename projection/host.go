package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/cqrs"
	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// errMalformed marks a message that can never deserialize. Redelivering it
// would fail identically, so it is terminated instead of requeued.
var errMalformed = errors.New("malformed event payload")

// ProjectionError wraps an updater failure. Delivery is at-least-once per
// aggregate stream, so the message is requeued; a projection can always be
// rebuilt from the event log, so no state is lost either way.
type ProjectionError struct {
	EventType string
	Err       error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection updater failed for %s: %v", e.EventType, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Host pulls events from JetStream and delivers them through the event
// dispatch chain. Updaters are expected to be idempotent.
type Host struct {
	client  *Client
	bus     *cqrs.EventBus
	logger  *zap.Logger
	durable string
}

// NewHost creates a host delivering to bus under the given durable consumer
// name.
func NewHost(client *Client, bus *cqrs.EventBus, durable string, logger *zap.Logger) *Host {
	return &Host{client: client, bus: bus, logger: logger, durable: durable}
}

// Start initialises a pull-based JetStream subscription and begins processing
// messages in a background goroutine until ctx is cancelled.
func (h *Host) Start(ctx context.Context) error {
	sub, err := h.client.JS.PullSubscribe(
		SubjectEvents,
		h.durable,
		nats.BindStream(StreamEvents),
	)
	if err != nil {
		return err
	}

	h.logger.Info("projection host initialized",
		zap.String("stream", StreamEvents),
		zap.String("durable", h.durable),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msgs, err := sub.Fetch(10, nats.Context(ctx))
				if err != nil {
					continue // timeout or ctx cancel, retry
				}
				for _, msg := range msgs {
					h.processMessage(ctx, msg)
				}
			}
		}
	}()

	return nil
}

// ackDisposition is what one delivery outcome tells JetStream.
type ackDisposition int

const (
	ackOK ackDisposition = iota
	ackTerminate
	ackRequeue
)

// disposition classifies a delivery error. A rate-limit breach requeues: the
// window slides, so a later redelivery can succeed. Malformed payloads and
// tenant denials terminate, since redelivery changes neither payload nor
// metadata.
func disposition(err error) ackDisposition {
	var rl *cqrs.RateLimitExceededError
	switch {
	case err == nil:
		return ackOK
	case errors.As(err, &rl):
		return ackRequeue
	case errors.Is(err, errMalformed), errors.Is(err, cqrs.ErrDenied):
		return ackTerminate
	default:
		return ackRequeue
	}
}

// processMessage handles NATS acknowledgment based on the result of
// processEvent. The separation lets processEvent be tested without a live
// NATS connection.
func (h *Host) processMessage(ctx context.Context, msg *nats.Msg) {
	switch disposition(h.processEvent(ctx, msg.Data)) {
	case ackOK:
		msg.Ack()
	case ackTerminate:
		msg.Term()
	default:
		msg.Nak()
	}
}

// processEvent deserializes one event and dispatches it through the event
// chain. Events no updater subscribes to are acknowledged without dispatch.
func (h *Host) processEvent(ctx context.Context, data []byte) error {
	var evt eventstore.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error("malformed event payload", zap.Error(err))
		return errMalformed
	}

	if !h.bus.Subscribed(evt.EventType) {
		return nil
	}

	if err := h.bus.Dispatch(ctx, evt); err != nil {
		if errors.Is(err, cqrs.ErrDenied) {
			h.logger.Warn("event delivery denied",
				zap.String("event_type", evt.EventType),
				zap.String("event_id", evt.ID.String()))
			return err
		}
		return &ProjectionError{EventType: evt.EventType, Err: err}
	}
	return nil
}
