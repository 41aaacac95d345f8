// Package tenant carries the active tenant identity through a request's
// context. Every tenant-owned data operation in the system resolves the
// tenant from here; there is no global and no default tenant.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoTenantContext is returned when a tenant-scoped operation runs
	// without an active tenant scope and no system bypass was requested.
	ErrNoTenantContext = errors.New("tenant: no tenant context")

	// ErrNestedTenant is returned when a scope for a different tenant is
	// opened inside an existing scope. Silent override is the classic
	// cross-tenant leak, so it is an error rather than a replacement.
	ErrNestedTenant = errors.New("tenant: nested scope for a different tenant")

	// ErrEmptyTenantID is returned for a blank tenant id.
	ErrEmptyTenantID = errors.New("tenant: empty tenant id")
)

type ctxKey int

const scopeKey ctxKey = 0

type scope struct {
	tenantID string
	system   bool
}

// NewContext returns a context scoped to tenantID. Opening a scope inside
// an existing scope is a no-op for the same tenant and ErrNestedTenant for
// any other tenant. A system scope cannot be narrowed back to a tenant;
// callers that need both must keep the original context around.
func NewContext(ctx context.Context, tenantID string) (context.Context, error) {
	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if s, ok := ctx.Value(scopeKey).(scope); ok {
		if s.system {
			return nil, fmt.Errorf("tenant: cannot open tenant scope %q inside system scope: %w", tenantID, ErrNestedTenant)
		}
		if s.tenantID != tenantID {
			return nil, fmt.Errorf("tenant: scope %q already active, refusing %q: %w", s.tenantID, tenantID, ErrNestedTenant)
		}
		return ctx, nil
	}
	return context.WithValue(ctx, scopeKey, scope{tenantID: tenantID}), nil
}

// RunWithTenant executes fn with a context scoped to tenantID.
func RunWithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	sctx, err := NewContext(ctx, tenantID)
	if err != nil {
		return err
	}
	return fn(sctx)
}

// Current returns the active tenant id, or ErrNoTenantContext when no
// tenant scope is open. A system scope has no tenant and also returns
// ErrNoTenantContext; system callers must not pretend to be a tenant.
func Current(ctx context.Context) (string, error) {
	s, ok := ctx.Value(scopeKey).(scope)
	if !ok || s.system {
		return "", ErrNoTenantContext
	}
	return s.tenantID, nil
}

// WithSystem opens an explicit system scope that bypasses tenant
// enforcement. It is a distinct entry point on purpose: the unscoped path
// must be impossible to reach by accident. Use only for cross-tenant
// infrastructure such as the delivery worker.
func WithSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey, scope{system: true})
}

// IsSystem reports whether ctx carries the system bypass.
func IsSystem(ctx context.Context) bool {
	s, ok := ctx.Value(scopeKey).(scope)
	return ok && s.system
}
