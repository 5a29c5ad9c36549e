// Package eventstore provides the append-only, immutable domain event log
// with per-tenant isolation and optimistic concurrency.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Metadata is the event envelope's wire-format metadata. TenantID is
// mandatory for any event consumed by the async event chain; trace fields are
// copied verbatim from the producing span so sampling decisions stay stable
// end to end.
type Metadata struct {
	TenantID      string    `json:"tenantId"`
	UserID        string    `json:"userId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"traceId,omitempty"`    // 32 hex
	SpanID        string    `json:"spanId,omitempty"`     // 16 hex
	TraceFlags    string    `json:"traceFlags,omitempty"` // 2 hex
}

// Event is one immutable fact in an aggregate's stream. ID, TenantID,
// Version and CreatedAt are assigned by the store on append; callers supply
// the rest.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
	TenantID      string          `json:"tenantId"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Snapshot is an optional aggregate state cache, unique per
// (tenant, aggregate), freely replaceable, never a source of truth.
type Snapshot struct {
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	TenantID      string          `json:"tenantId"`
	CreatedAt     time.Time       `json:"createdAt"`
}
