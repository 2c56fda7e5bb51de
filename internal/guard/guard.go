// Package guard produces query handles pre-bound to a tenant id.
//
// Every operation issued through a handle is constrained to the bound
// tenant: inserts have their tenant_id column set from the handle, and
// update/delete/select filters are ANDed with the tenant condition. A
// caller's filter can narrow the result set but never escape the boundary.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fieldline/fence/internal/model"
)

// tenantColumn is the column every tenant-scoped table carries.
const tenantColumn = "tenant_id"

// Querier issues SQL. Satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SecurityEventRecorder records tenant mismatch anomalies. Satisfied by
// audit.Logger; nil disables recording.
type SecurityEventRecorder interface {
	LogSecurityEvent(ctx context.Context, ev model.SecurityEvent)
}

// Options tunes handle behavior.
type Options struct {
	// Strict rejects inserts whose payload carries a tenant id differing
	// from the bound one. The default (false) silently overwrites the
	// payload value: client-supplied tenant ids are untrusted input, and
	// correcting them keeps a confused client inside its own tenant instead
	// of failing it.
	Strict bool
	Logger *slog.Logger
	Events SecurityEventRecorder
}

// Handle is a query handle bound to one tenant and one table.
type Handle struct {
	q        Querier
	tenantID uuid.UUID
	table    string
	opts     Options

	corrections metric.Int64Counter
}

// Handles are cheap and built per request, so the counter is registered once
// for the whole process, not per handle.
var (
	correctionsOnce    sync.Once
	correctionsCounter metric.Int64Counter
)

func correctionsMetric(logger *slog.Logger) metric.Int64Counter {
	correctionsOnce.Do(func() {
		meter := otel.Meter("github.com/fieldline/fence/internal/guard")
		counter, err := meter.Int64Counter("fence.guard.tenant_corrections",
			metric.WithDescription("Insert payloads whose tenant id was overwritten with the bound tenant."))
		if err != nil {
			logger.Warn("guard: create corrections counter", "error", err)
			return
		}
		correctionsCounter = counter
	})
	return correctionsCounter
}

// TenantTable binds a query handle to tenantID for the given table. The
// table name is validated against the identifier allow-list before any SQL
// is built.
func TenantTable(q Querier, tenantID uuid.UUID, table string, opts Options) (*Handle, error) {
	if !validIdent(table) {
		return nil, fmt.Errorf("guard: invalid table name %q", table)
	}
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("guard: refusing to bind handle to nil tenant id")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Handle{
		q:           q,
		tenantID:    tenantID,
		table:       table,
		opts:        opts,
		corrections: correctionsMetric(opts.Logger),
	}, nil
}

// TenantID returns the handle's bound tenant id.
func (h *Handle) TenantID() uuid.UUID { return h.tenantID }

// Insert writes one row. The tenant_id column is always taken from the
// handle, never from the payload. A missing id column is filled with a new
// UUID so the caller learns the row's identity without a round trip.
// Returns the row as persisted.
func (h *Handle) Insert(ctx context.Context, payload map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		row[k] = v
	}

	if supplied, ok := row[tenantColumn]; ok {
		if !h.sameTenant(supplied) {
			if h.opts.Strict {
				return nil, &TenantMismatchError{
					Table:    h.table,
					Bound:    h.tenantID.String(),
					Supplied: fmt.Sprint(supplied),
				}
			}
			h.recordCorrection(ctx, supplied)
		}
	}
	row[tenantColumn] = h.tenantID

	if _, ok := row["id"]; !ok {
		row["id"] = uuid.New()
	}

	columns := make([]string, 0, len(row))
	for col := range row {
		if !validIdent(col) {
			return nil, fmt.Errorf("guard: invalid column name %q", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		h.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if _, err := h.q.Exec(ctx, sql, args...); err != nil {
		return nil, &StoreError{Table: h.table, Op: "insert", Err: err}
	}
	return row, nil
}

// Update applies set to rows matching the filter, constrained to the bound
// tenant. tenant_id is immutable: it is dropped from set if present. Returns
// the number of rows affected.
func (h *Handle) Update(ctx context.Context, set map[string]any, filter model.Filter) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("guard: update with empty set")
	}
	if _, ok := set[tenantColumn]; ok {
		h.opts.Logger.Warn("guard: dropping tenant_id from update set", "table", h.table)
		clean := make(map[string]any, len(set))
		for k, v := range set {
			if k != tenantColumn {
				clean[k] = v
			}
		}
		set = clean
		if len(set) == 0 {
			return 0, fmt.Errorf("guard: update set contained only tenant_id")
		}
	}

	columns := make([]string, 0, len(set))
	for col := range set {
		if !validIdent(col) {
			return 0, fmt.Errorf("guard: invalid column name %q", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(filter)+1)
	for i, col := range columns {
		assignments[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, set[col])
	}

	where, whereArgs, err := h.compileWhere(filter, len(args)+1)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		h.table, strings.Join(assignments, ", "), where)

	tag, err := h.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, &StoreError{Table: h.table, Op: "update", Err: err}
	}
	return tag.RowsAffected(), nil
}

// Delete removes rows matching the filter, constrained to the bound tenant.
// Returns the number of rows affected.
func (h *Handle) Delete(ctx context.Context, filter model.Filter) (int64, error) {
	where, args, err := h.compileWhere(filter, 1)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", h.table, where)

	tag, err := h.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, &StoreError{Table: h.table, Op: "delete", Err: err}
	}
	return tag.RowsAffected(), nil
}

// Select reads rows matching the filter, constrained to the bound tenant.
// Rows come back as column-name maps; callers needing typed rows decode from
// there.
func (h *Handle) Select(ctx context.Context, filter model.Filter) ([]map[string]any, error) {
	where, args, err := h.compileWhere(filter, 1)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", h.table, where)

	rows, err := h.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, &StoreError{Table: h.table, Op: "select", Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &StoreError{Table: h.table, Op: "select", Err: err}
		}
		rec := make(map[string]any, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Table: h.table, Op: "select", Err: err}
	}
	return out, nil
}

// compileWhere renders `(<caller filter>) AND tenant_id = $n`. With no
// caller filter the clause is just the tenant condition, so even a filterless
// update or delete cannot cross the boundary.
func (h *Handle) compileWhere(filter model.Filter, argOffset int) (string, []any, error) {
	fragment, args, err := compileFilter(filter, argOffset)
	if err != nil {
		return "", nil, err
	}

	tenantCond := fmt.Sprintf("%s = $%d", tenantColumn, argOffset+len(args))
	args = append(args, h.tenantID)

	if fragment == "" {
		return tenantCond, args, nil
	}
	return fragment + " AND " + tenantCond, args, nil
}

// sameTenant reports whether a payload-supplied tenant id equals the bound
// one, tolerating both uuid.UUID and string representations.
func (h *Handle) sameTenant(supplied any) bool {
	switch v := supplied.(type) {
	case uuid.UUID:
		return v == h.tenantID
	case string:
		parsed, err := uuid.Parse(strings.TrimSpace(v))
		return err == nil && parsed == h.tenantID
	default:
		return false
	}
}

func (h *Handle) recordCorrection(ctx context.Context, supplied any) {
	h.opts.Logger.Warn("guard: overwrote mismatched payload tenant id",
		"table", h.table,
		"bound_tenant", h.tenantID,
		"supplied", fmt.Sprint(supplied))

	if h.corrections != nil {
		h.corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("table", h.table)))
	}
	if h.opts.Events != nil {
		tid := h.tenantID
		h.opts.Events.LogSecurityEvent(ctx, model.SecurityEvent{
			TenantID:  &tid,
			EventType: model.EventTenantMismatch,
			Source:    "scoped_query_builder",
			Metadata: map[string]any{
				"table":    h.table,
				"supplied": fmt.Sprint(supplied),
			},
		})
	}
}
