package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/acita-gmbh/eaf-sub013/cqrs"
	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

const hostTenant = "11111111-1111-1111-1111-111111111111"

func encodedEvent(t *testing.T, tenantID string) []byte {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	data, err := json.Marshal(eventstore.Event{
		ID:          id,
		AggregateID: "33333333-3333-3333-3333-333333333333",
		EventType:   "VmRequestCreated",
		Payload:     json.RawMessage(`{"v":1}`),
		Metadata:    eventstore.Metadata{TenantID: tenantID},
		TenantID:    tenantID,
		Version:     1,
	})
	require.NoError(t, err)
	return data
}

func hostFixture(t *testing.T, updater cqrs.EventHandlerFunc) *Host {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := cqrs.NewEventBus(cqrs.TenantRestoreEvent(logger), cqrs.MetricsEvent())
	if updater != nil {
		bus.Register("VmRequestCreated", updater)
	}
	return NewHost(nil, bus, "projection-test", logger)
}

func TestHost_DeliversWithTenantRestored(t *testing.T) {
	var during string
	h := hostFixture(t, func(ctx context.Context, evt eventstore.Event) error {
		during = tenant.Current(ctx)
		return nil
	})

	base := context.Background()
	require.NoError(t, h.processEvent(base, encodedEvent(t, hostTenant)))
	assert.Equal(t, hostTenant, during)
	assert.Zero(t, tenant.Depth(base))
}

func TestHost_MissingTenantIsDenied(t *testing.T) {
	invoked := false
	h := hostFixture(t, func(ctx context.Context, evt eventstore.Event) error {
		invoked = true
		return nil
	})

	err := h.processEvent(context.Background(), encodedEvent(t, ""))
	require.ErrorIs(t, err, cqrs.ErrDenied)
	assert.False(t, invoked)
	assert.Equal(t, ackTerminate, disposition(err))
}

type stubLimiter struct{ allow bool }

func (s stubLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	return s.allow, nil
}

func TestHost_RateLimitedEventIsRequeued(t *testing.T) {
	logger := zaptest.NewLogger(t)
	invoked := false
	bus := cqrs.NewEventBus(
		cqrs.TenantRestoreEvent(logger),
		cqrs.RateLimitEvent(stubLimiter{allow: false}, logger),
		cqrs.MetricsEvent(),
	)
	bus.Register("VmRequestCreated", func(ctx context.Context, evt eventstore.Event) error {
		invoked = true
		return nil
	})
	h := NewHost(nil, bus, "projection-test", logger)

	err := h.processEvent(context.Background(), encodedEvent(t, hostTenant))
	var rl *cqrs.RateLimitExceededError
	require.ErrorAs(t, err, &rl)
	assert.False(t, invoked)

	// The window slides, so the breach is transient: the message must go
	// back to the stream, not be terminated like a poison pill.
	assert.Equal(t, ackRequeue, disposition(err))
}

func TestHost_MalformedPayload(t *testing.T) {
	h := hostFixture(t, nil)
	err := h.processEvent(context.Background(), []byte("{not json"))
	require.ErrorIs(t, err, errMalformed)
	assert.Equal(t, ackTerminate, disposition(err))
}

func TestHost_UpdaterFailureIsProjectionError(t *testing.T) {
	boom := errors.New("read model unavailable")
	h := hostFixture(t, func(ctx context.Context, evt eventstore.Event) error {
		return boom
	})

	err := h.processEvent(context.Background(), encodedEvent(t, hostTenant))
	var pe *ProjectionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "VmRequestCreated", pe.EventType)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ackRequeue, disposition(err))
}

func TestHost_UnsubscribedEventAcked(t *testing.T) {
	h := hostFixture(t, nil)
	require.NoError(t, h.processEvent(context.Background(), encodedEvent(t, hostTenant)))
}

func TestSubjectFor(t *testing.T) {
	evt := eventstore.Event{AggregateType: "VmRequest", EventType: "VmRequestCreated"}
	assert.Equal(t, "events.VmRequest.VmRequestCreated", subjectFor(evt))
}
