package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// Publisher fans persisted events out to JetStream. The event id doubles as
// the message id, so a command retried after a publish timeout cannot deliver
// the same event twice within the dedupe window.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher on the given client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends one event to its subject and waits for the stream ack.
func (p *Publisher) Publish(ctx context.Context, evt eventstore.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	_, err = p.client.JS.Publish(subjectFor(evt), data,
		nats.MsgId(evt.ID.String()),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}
	return nil
}

// subjectFor routes an event by aggregate and event type under events.>.
func subjectFor(evt eventstore.Event) string {
	return fmt.Sprintf("events.%s.%s", evt.AggregateType, evt.EventType)
}
