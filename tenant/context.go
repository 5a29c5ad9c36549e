// Package tenant is the single source of truth for "the tenant this unit of
// work is acting on behalf of".
//
// The stack rides on context.Context instead of any thread-local mechanism:
// a goroutine can only observe a tenant that was explicitly propagated to it
// through a context, so pooled workers can never inherit another request's
// tenant by accident. Asynchronous consumers restore the tenant from event
// metadata (see the cqrs event chain), which is the only supported way to
// cross a scheduling boundary.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/acita-gmbh/eaf-sub013/telemetry"
)

var (
	// ErrMissingTenantContext is returned by Require when no tenant is bound.
	// It is an integration error, reported as an internal failure, never as
	// an access denial, so it stays distinguishable from security rejections.
	ErrMissingTenantContext = errors.New("tenant: no tenant bound to context")

	// ErrBlankTenant is returned by Push for empty or whitespace-only ids.
	ErrBlankTenant = errors.New("tenant: tenant id must not be blank")
)

type stackKey struct{}

// stackFrom returns the tenant stack bound to ctx, nil if none.
func stackFrom(ctx context.Context) []string {
	s, _ := ctx.Value(stackKey{}).([]string)
	return s
}

// Push returns a child context with tenantID on top of the stack.
// The parent context is unchanged; dropping the child is equivalent to a pop,
// but callers on the request path should still call Pop explicitly so that
// CheckLeak can verify the pairing.
func Push(ctx context.Context, tenantID string) (context.Context, error) {
	if strings.TrimSpace(tenantID) == "" {
		return ctx, ErrBlankTenant
	}
	prev := stackFrom(ctx)
	next := make([]string, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, tenantID)
	telemetry.TenantPushes.Inc()
	return context.WithValue(ctx, stackKey{}, next), nil
}

// Current returns the top tenant id, or "" when the stack is empty.
// Observational: never fails.
func Current(ctx context.Context) string {
	s := stackFrom(ctx)
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// Require returns the top tenant id or fails closed with
// ErrMissingTenantContext. Every data-path component calls this before
// touching storage.
func Require(ctx context.Context) (string, error) {
	t := Current(ctx)
	if t == "" {
		return "", ErrMissingTenantContext
	}
	return t, nil
}

// Pop returns a context with the top entry removed. When the stack becomes
// empty the slot itself is cleared so nothing lingers on derived contexts.
// Idempotent on an empty stack.
func Pop(ctx context.Context) context.Context {
	s := stackFrom(ctx)
	switch len(s) {
	case 0:
		return ctx
	case 1:
		return context.WithValue(ctx, stackKey{}, []string(nil))
	default:
		return context.WithValue(ctx, stackKey{}, s[:len(s)-1])
	}
}

// Depth returns the current stack size.
func Depth(ctx context.Context) int {
	return len(stackFrom(ctx))
}

// CheckLeak records a leak metric if ctx still carries tenant entries and
// returns the residual depth. Entry points call it after the unit of work has
// unwound; a non-zero result means a push was not paired with a pop.
func CheckLeak(ctx context.Context) int {
	d := Depth(ctx)
	if d > 0 {
		telemetry.TenantLeaks.Inc()
	}
	return d
}
