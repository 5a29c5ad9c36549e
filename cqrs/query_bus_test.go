package cqrs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/acita-gmbh/eaf-sub013/tenant"
)

type widgetByID struct {
	Tenant string
	ID     string
}

func (q widgetByID) TenantID() string  { return q.Tenant }
func (q widgetByID) QueryType() string { return "WidgetByID" }

func TestQueryBus_DispatchPushesPayloadTenant(t *testing.T) {
	bus := NewQueryBus(TenantEnrichQuery(zaptest.NewLogger(t)), MetricsQuery())

	require.NoError(t, bus.Register("WidgetByID", func(ctx context.Context, q Query) (any, error) {
		cur, err := tenant.Require(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"tenant": cur}, nil
	}))

	res, err := bus.Dispatch(context.Background(), widgetByID{Tenant: testTenant, ID: testAggregate})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tenant": testTenant}, res)
}

func TestQueryBus_BlankTenantDenied(t *testing.T) {
	bus := NewQueryBus(TenantEnrichQuery(zaptest.NewLogger(t)))

	invoked := false
	require.NoError(t, bus.Register("WidgetByID", func(ctx context.Context, q Query) (any, error) {
		invoked = true
		return nil, nil
	}))

	_, err := bus.Dispatch(context.Background(), widgetByID{ID: testAggregate})
	require.ErrorIs(t, err, ErrDenied)
	assert.False(t, invoked)
}

func TestQueryBus_UnknownQuery(t *testing.T) {
	bus := NewQueryBus()
	_, err := bus.Dispatch(context.Background(), widgetByID{Tenant: testTenant})
	require.ErrorContains(t, err, `no handler registered for query "WidgetByID"`)
}
