// Package tenantdb is the only way the rest of the codebase touches the
// database. A Conn is bound to the tenant carried by the context it was
// opened with and stamps that tenant id into every statement it runs, so
// a query path that forgets tenant scoping does not compile rather than
// silently going unscoped. The system escape hatch is a separate type
// behind a separate constructor.
package tenantdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/metrics"
	"github.com/moorings/berthhook/internal/tenant"
)

// ErrCrossTenant is returned in strict mode when an operation names a
// tenant other than the one in scope.
var ErrCrossTenant = errors.New("tenantdb: operation names a different tenant")

// DB wraps a pgx pool with tenant enforcement.
type DB struct {
	pool   *pgxpool.Pool
	strict bool
	log    *logging.Logger
}

// New creates a tenant-enforcing DB wrapper. In strict mode, conflicting
// caller-supplied tenant fields are rejected instead of overwritten.
func New(pool *pgxpool.Pool, strict bool, log *logging.Logger) *DB {
	return &DB{pool: pool, strict: strict, log: log}
}

// Scoped returns a connection bound to the tenant in ctx. It is the only
// data path for tenant-owned entities; without an open tenant scope it
// fails with tenant.ErrNoTenantContext.
func (db *DB) Scoped(ctx context.Context) (*Conn, error) {
	tenantID, err := tenant.Current(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{db: db, tenantID: tenantID}, nil
}

// System returns an unscoped connection. It requires an explicit
// tenant.WithSystem context; handing it a request context is a
// programming error and fails like a missing scope.
func (db *DB) System(ctx context.Context) (*SystemConn, error) {
	if !tenant.IsSystem(ctx) {
		return nil, tenant.ErrNoTenantContext
	}
	return &SystemConn{db: db}, nil
}

// Conn executes statements on behalf of exactly one tenant. Every SQL
// string run through it must reference the tenant id as $1; the Conn
// supplies that argument itself, so callers cannot substitute another
// tenant's id.
type Conn struct {
	db       *DB
	tenantID string
}

// TenantID returns the tenant this connection is bound to.
func (c *Conn) TenantID() string {
	return c.tenantID
}

// Exec runs sql with the bound tenant id as $1 and caller args as $2...
// The command tag is returned so callers can observe zero-row results
// from attempted cross-tenant writes.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.pool.Exec(ctx, sql, prepend(c.tenantID, args)...)
}

// Query runs sql with the bound tenant id as $1 and caller args as $2...
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.db.pool.Query(ctx, sql, prepend(c.tenantID, args)...)
}

// QueryRow runs sql with the bound tenant id as $1 and caller args as $2...
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.db.pool.QueryRow(ctx, sql, prepend(c.tenantID, args)...)
}

// SendBatch sends a batch; each queued statement must follow the same
// $1-is-tenant convention, applied via BatchQueue.
func (c *Conn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return c.db.pool.SendBatch(ctx, b)
}

// BatchQueue queues sql on b with the bound tenant id as $1.
func (c *Conn) BatchQueue(b *pgx.Batch, sql string, args ...any) {
	b.Queue(sql, prepend(c.tenantID, args)...)
}

// Stamp resolves the tenant id to write into a new row. An empty explicit
// value takes the scope's tenant. A conflicting explicit value is a
// cross-tenant attempt: logged and counted always, rejected in strict
// mode, overwritten otherwise.
func (c *Conn) Stamp(ctx context.Context, op, explicit string) (string, error) {
	if explicit != "" && explicit != c.tenantID {
		metrics.RecordViolation(op)
		if c.db.log != nil {
			c.db.log.WithContext(ctx).WithTenant(c.tenantID).
				WithField("op", op).
				WithField("claimed_tenant_id", explicit).
				Warn("cross-tenant write attempt")
		}
		if c.db.strict {
			return "", fmt.Errorf("%w: op %s claimed %q under scope %q", ErrCrossTenant, op, explicit, c.tenantID)
		}
	}
	return c.tenantID, nil
}

// SystemConn executes statements without tenant scoping. Reserved for
// cross-tenant infrastructure (migrations, the delivery worker's claim
// loop); nothing request-facing should hold one.
type SystemConn struct {
	db *DB
}

func (c *SystemConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.pool.Exec(ctx, sql, args...)
}

func (c *SystemConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.db.pool.Query(ctx, sql, args...)
}

func (c *SystemConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.db.pool.QueryRow(ctx, sql, args...)
}

func prepend(tenantID string, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, tenantID)
	return append(out, args...)
}
