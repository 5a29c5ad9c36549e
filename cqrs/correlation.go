package cqrs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// CorrelationProvider stamps outgoing event metadata from the ambient
// context: tenant, user, correlation id, timestamp and the active span. The
// tenant is taken from the context if present; a system-level event produced
// outside any tenant keeps an empty tenant and will be rejected by the event
// chain on consumption, which is the fail-closed path.
type CorrelationProvider struct {
	// UserID resolves the acting user from the context, typically from the
	// authenticated principal. Optional.
	UserID func(ctx context.Context) string

	now func() time.Time
}

// NewCorrelationProvider creates a provider with the given user resolver,
// which may be nil.
func NewCorrelationProvider(userID func(ctx context.Context) string) *CorrelationProvider {
	return &CorrelationProvider{UserID: userID, now: time.Now}
}

// Enrich fills the blanks of m without overwriting values already set.
func (p *CorrelationProvider) Enrich(ctx context.Context, m eventstore.Metadata) eventstore.Metadata {
	if m.TenantID == "" {
		m.TenantID = tenant.Current(ctx)
	}
	if m.UserID == "" && p.UserID != nil {
		m.UserID = p.UserID(ctx)
	}
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = p.now().UTC()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && m.TraceID == "" {
		m.TraceID = sc.TraceID().String()
		m.SpanID = sc.SpanID().String()
		m.TraceFlags = sc.TraceFlags().String()
	}
	return m
}
