package cqrs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/internal/mocks"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

type widgetState struct {
	Exists bool   `json:"exists"`
	Name   string `json:"name"`
}

var widgetType = AggregateType[widgetState]{
	Name: "Widget",
	New:  func() widgetState { return widgetState{} },
	Apply: func(s widgetState, evt eventstore.Event) (widgetState, error) {
		switch evt.EventType {
		case "WidgetCreated", "WidgetRenamed":
			var p struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				return s, err
			}
			s.Exists = true
			s.Name = p.Name
			return s, nil
		default:
			return s, &InvalidStateError{AggregateType: "Widget", EventType: evt.EventType}
		}
	},
}

func createHandler(ctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
	if s.Exists {
		return nil, NewDomainError("widget_exists", "widget %s already exists", cmd.AggregateID())
	}
	c := cmd.(createWidget)
	payload, _ := json.Marshal(map[string]string{"name": c.Name})
	return []eventstore.Event{{EventType: "WidgetCreated", Payload: payload}}, nil
}

type capturePublisher struct {
	published []eventstore.Event
}

func (p *capturePublisher) Publish(ctx context.Context, evt eventstore.Event) error {
	p.published = append(p.published, evt)
	return nil
}

func runtimeFixture(t *testing.T, opts ...RuntimeOption[widgetState]) (*Runtime[widgetState], *eventstore.MemoryStore, context.Context) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	rt := NewRuntime(widgetType, store, NewCorrelationProvider(nil), zaptest.NewLogger(t), opts...)
	ctx, err := tenant.Push(context.Background(), testTenant)
	require.NoError(t, err)
	return rt, store, ctx
}

func TestRuntime_CreatesAggregate(t *testing.T) {
	pub := &capturePublisher{}
	rt, store, ctx := runtimeFixture(t, WithPublisher[widgetState](pub))

	v, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}, createHandler)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	events, err := store.Load(ctx, testAggregate)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "WidgetCreated", events[0].EventType)
	assert.Equal(t, "Widget", events[0].AggregateType)
	assert.Equal(t, testTenant, events[0].Metadata.TenantID)
	assert.NotEmpty(t, events[0].Metadata.CorrelationID)
	assert.False(t, events[0].Metadata.Timestamp.IsZero())

	// The publisher receives what the store recorded, versions included.
	require.Len(t, pub.published, 1)
	assert.Equal(t, int64(1), pub.published[0].Version)
	assert.Equal(t, events[0].ID, pub.published[0].ID)
}

func TestRuntime_DomainErrorPassesThrough(t *testing.T) {
	rt, _, ctx := runtimeFixture(t)

	cmd := createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}
	_, err := rt.Execute(ctx, cmd, createHandler)
	require.NoError(t, err)

	_, err = rt.Execute(ctx, cmd, createHandler)
	require.True(t, IsDomainError(err))
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "widget_exists", de.Code)
}

func TestRuntime_ReconstitutesBeforeHandling(t *testing.T) {
	rt, store, ctx := runtimeFixture(t)

	_, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}, createHandler)
	require.NoError(t, err)

	renamed, _ := json.Marshal(map[string]string{"name": "b"})
	_, err = store.Append(ctx, testAggregate, []eventstore.Event{
		{AggregateType: "Widget", EventType: "WidgetRenamed", Payload: renamed},
	}, 1)
	require.NoError(t, err)

	var seen widgetState
	v, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate},
		func(ctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
			seen = s
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, widgetState{Exists: true, Name: "b"}, seen)
}

func TestRuntime_ConcurrencyConflictSurfaces(t *testing.T) {
	rt, store, ctx := runtimeFixture(t)

	_, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}, createHandler)
	require.NoError(t, err)

	// A competing writer lands version 2 between this handler's load and its
	// append.
	raced := false
	_, err = rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate},
		func(hctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
			if !raced {
				raced = true
				payload, _ := json.Marshal(map[string]string{"name": "x"})
				_, aerr := store.Append(ctx, testAggregate, []eventstore.Event{
					{AggregateType: "Widget", EventType: "WidgetRenamed", Payload: payload},
				}, 1)
				require.NoError(t, aerr)
			}
			payload, _ := json.Marshal(map[string]string{"name": "y"})
			return []eventstore.Event{{EventType: "WidgetRenamed", Payload: payload}}, nil
		})
	require.True(t, eventstore.IsConcurrencyConflict(err))

	var cc *eventstore.ConcurrencyConflictError
	require.ErrorAs(t, err, &cc)
	assert.Equal(t, int64(1), cc.Expected)
	assert.Equal(t, int64(2), cc.Actual)
}

func TestRuntime_UnknownEventTypeFailsReconstitution(t *testing.T) {
	rt, store, ctx := runtimeFixture(t)

	_, err := store.Append(ctx, testAggregate, []eventstore.Event{
		{AggregateType: "Widget", EventType: "WidgetTeleported", Payload: json.RawMessage(`{}`)},
	}, 0)
	require.NoError(t, err)

	_, err = rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate},
		func(ctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
			t.Fatal("handler must not run on a broken stream")
			return nil, nil
		})
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "WidgetTeleported", ise.EventType)
}

func TestRuntime_SnapshotRoundTrip(t *testing.T) {
	snaps := eventstore.NewMemorySnapshotStore()
	rt, store, ctx := runtimeFixture(t, WithSnapshots[widgetState](snaps, 2))

	_, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}, createHandler)
	require.NoError(t, err)

	rename := func(name string) HandleFunc[widgetState] {
		return func(ctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
			payload, _ := json.Marshal(map[string]string{"name": name})
			return []eventstore.Event{{EventType: "WidgetRenamed", Payload: payload}}, nil
		}
	}
	_, err = rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate}, rename("b"))
	require.NoError(t, err)

	snap, err := snaps.Load(ctx, testAggregate)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.Version)

	var cached widgetState
	require.NoError(t, json.Unmarshal(snap.State, &cached))
	assert.Equal(t, widgetState{Exists: true, Name: "b"}, cached)

	// Reconstitution from snapshot plus tail equals reconstitution from the
	// full stream.
	_, err = rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate}, rename("c"))
	require.NoError(t, err)

	var seen widgetState
	v, err := rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate},
		func(ctx context.Context, s widgetState, cmd Command) ([]eventstore.Event, error) {
			seen = s
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, widgetState{Exists: true, Name: "c"}, seen)

	events, err := store.Load(ctx, testAggregate)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRuntime_StorageFailureSurfaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	ioErr := errors.New("connection reset")
	store.EXPECT().LoadFrom(gomock.Any(), testAggregate, int64(1)).Return(nil, ioErr)

	rt := NewRuntime(widgetType, store, NewCorrelationProvider(nil), zaptest.NewLogger(t))
	ctx, err := tenant.Push(context.Background(), testTenant)
	require.NoError(t, err)

	_, err = rt.Execute(ctx, createWidget{Tenant: testTenant, ID: testAggregate, Name: "a"}, createHandler)
	require.ErrorIs(t, err, ioErr)
}
