package cqrs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

const testUser = "44444444-4444-4444-4444-444444444444"

func TestCorrelation_StampsFromContext(t *testing.T) {
	p := NewCorrelationProvider(func(ctx context.Context) string { return testUser })
	ctx, err := tenant.Push(context.Background(), testTenant)
	require.NoError(t, err)

	m := p.Enrich(ctx, eventstore.Metadata{})
	assert.Equal(t, testTenant, m.TenantID)
	assert.Equal(t, testUser, m.UserID)
	assert.NotEmpty(t, m.CorrelationID)
	assert.False(t, m.Timestamp.IsZero())
}

func TestCorrelation_DoesNotOverwrite(t *testing.T) {
	p := NewCorrelationProvider(func(ctx context.Context) string { return testUser })
	ctx, err := tenant.Push(context.Background(), testTenant)
	require.NoError(t, err)

	stamped := eventstore.Metadata{
		TenantID:      otherTestTenant,
		UserID:        "service-account",
		CorrelationID: "preset",
		Timestamp:     time.Unix(1_700_000_000, 0),
	}
	m := p.Enrich(ctx, stamped)
	assert.Equal(t, stamped, m)
}

func TestCorrelation_NoTenantStaysEmpty(t *testing.T) {
	p := NewCorrelationProvider(nil)

	// A system-level event produced outside any tenant keeps an empty
	// tenant; the event chain rejects it on consumption.
	m := p.Enrich(context.Background(), eventstore.Metadata{})
	assert.Empty(t, m.TenantID)
	assert.Empty(t, m.UserID)
	assert.NotEmpty(t, m.CorrelationID)
}
