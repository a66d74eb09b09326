// Package executor runs validated SELECT statements inside a target
// tenant's schema under a restricted database role. Every checkout of a
// pooled connection is scoped: the role and search path are reset on every
// exit path before the connection goes back to the pool, so no elevation
// can leak into the next checkout.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTimeout means the statement exceeded the configured bound. Distinct
	// from ErrExecution so callers can tell "ran and failed" from "never
	// completed".
	ErrTimeout = errors.New("executor: query timed out")
	// ErrInvalidTenant flags a tenant id unusable as a schema/role name.
	ErrInvalidTenant = errors.New("executor: invalid tenant id")
)

// ExecutionError wraps a database-level rejection (syntax, permission).
type ExecutionError struct {
	cause error
}

func (e *ExecutionError) Error() string { return "executor: " + e.cause.Error() }
func (e *ExecutionError) Unwrap() error { return e.cause }

// Cause exposes the driver message for non-production error responses.
func (e *ExecutionError) Cause() string { return e.cause.Error() }

// Tenant ids become schema and role identifiers, so they are validated
// before any interpolation into SET statements.
var tenantID = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Result carries the rows plus the metadata the response and audit paths
// need.
type Result struct {
	Rows     []map[string]any
	RowCount int
	Duration time.Duration
}

// Executor executes read-only statements with per-tenant scoping.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	log     zerolog.Logger
}

func New(db *sql.DB, timeout time.Duration, log zerolog.Logger) *Executor {
	return &Executor{db: db, timeout: timeout, log: log}
}

// Execute runs a single validated statement against the target tenant's
// schema. It is never retried here; retrying caller-supplied SQL is caller
// policy because a retry produces a second audit-relevant attempt.
func (e *Executor) Execute(ctx context.Context, targetTenant, query string) (Result, error) {
	if !tenantID.MatchString(targetTenant) {
		return Result{}, ErrInvalidTenant
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Result{}, &ExecutionError{cause: err}
	}
	defer conn.Close()

	// Restoration runs on a fresh context so it still executes after the
	// query context is canceled or has timed out.
	defer func() {
		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(resetCtx, `RESET ROLE`); err != nil {
			e.log.Error().Err(err).Msg("failed to reset role on connection release")
		}
		if _, err := conn.ExecContext(resetCtx, `RESET search_path`); err != nil {
			e.log.Error().Err(err).Msg("failed to reset search_path on connection release")
		}
	}()

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Privilege is dropped before any caller-supplied SQL touches the
	// connection. Role and schema names follow the tenant provisioning
	// convention (<id>_role, <id>_tenant).
	if _, err := conn.ExecContext(queryCtx, fmt.Sprintf(`SET ROLE %q`, targetTenant+"_role")); err != nil {
		return Result{}, &ExecutionError{cause: err}
	}
	if _, err := conn.ExecContext(queryCtx, fmt.Sprintf(`SET search_path TO %q, shared`, targetTenant+"_tenant")); err != nil {
		return Result{}, &ExecutionError{cause: err}
	}

	start := time.Now()
	rows, err := conn.QueryContext(queryCtx, query)
	if err != nil {
		return Result{}, e.classify(queryCtx, ctx, err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return Result{}, e.classify(queryCtx, ctx, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// AccessibleTables lists the tables the tenant's restricted role can see,
// for the admin discovery endpoint.
func (e *Executor) AccessibleTables(ctx context.Context, tenant string) ([]string, error) {
	if !tenantID.MatchString(tenant) {
		return nil, ErrInvalidTenant
	}
	rows, err := e.db.QueryContext(ctx, `
		select table_name from information_schema.tables
		where table_schema = $1 and table_type = 'BASE TABLE'
		order by table_name
	`, tenant+"_tenant")
	if err != nil {
		return nil, &ExecutionError{cause: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &ExecutionError{cause: err}
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (e *Executor) classify(queryCtx, parent context.Context, err error) error {
	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return ErrTimeout
	}
	return &ExecutionError{cause: err}
}

func collectRows(rows *sql.Rows) (Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return Result{Rows: out, RowCount: len(out)}, nil
}
