// Package fence is the public API for embedding the tenant-isolation
// mutation pipeline in an application.
//
// Applications construct a Client once and route every mutation of
// tenant-scoped data through it:
//
//	client, err := fence.New(ctx,
//	    fence.WithDatabaseURL(dsn),
//	    fence.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer client.Close()
//
//	res, err := client.SafeInsert(ctx, fence.Request{
//	    Table:    "jobs",
//	    Payload:  map[string]any{"status": "open"},
//	    ActorID:  actorID,
//	    TenantID: tenantID,
//	}, fence.RoleDispatcher, fence.RoleAdmin)
//
// The import graph enforces a strict no-cycle rule: fence (root) imports
// internal/*, but internal/* never imports fence (root). Public types are
// standalone structs with no internal imports; conversion helpers live here
// because this is the only file that sees both sides of the boundary.
package fence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/audit"
	"github.com/fieldline/fence/internal/authz"
	"github.com/fieldline/fence/internal/guard"
	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/pipeline"
	"github.com/fieldline/fence/internal/scope"
	"github.com/fieldline/fence/internal/storage"
	"github.com/fieldline/fence/migrations"
)

// Client wires the scope guard, role authorizer, scoped query builder, and
// audit logger behind the safe mutation helpers. Construct with New().
type Client struct {
	db       *storage.DB
	pipeline *pipeline.Pipeline
}

// New connects to the database and assembles the pipeline. It does not start
// any goroutines; Close releases the connection pool.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)

	if o.databaseURL == "" {
		return nil, fmt.Errorf("fence: WithDatabaseURL is required")
	}

	db, err := storage.New(ctx, o.databaseURL, o.logger)
	if err != nil {
		return nil, fmt.Errorf("fence: %w", err)
	}

	if o.runMigrations {
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("fence: %w", err)
		}
	}

	auditLog := audit.New(db, o.logger, audit.Options{
		WriteTimeout: o.auditWriteTimeout,
		MaxAttempts:  o.auditMaxAttempts,
	})

	p := pipeline.New(
		db.Pool(),
		scope.New(auditLog, o.logger, o.source),
		authz.New(db, o.logger),
		auditLog,
		o.logger,
		pipeline.Config{StrictTenantMismatch: o.strict},
	)

	return &Client{db: db, pipeline: p}, nil
}

// Close releases the database connection pool.
func (c *Client) Close() {
	c.db.Close()
}

// SafeInsert inserts req.Payload into req.Table on behalf of the actor,
// requiring one of the given roles in the claimed tenant. The persisted
// row's tenant_id always equals the validated tenant id, whatever the
// payload said.
func (c *Client) SafeInsert(ctx context.Context, req Request, anyOf ...Role) (Result, error) {
	res := c.pipeline.SafeInsert(ctx, toInternalRequest(req), toRoleSet(anyOf))
	return toPublicResult(res), res.Err
}

// SafeUpdate applies req.Set to the rows matching req.Filter, constrained to
// the validated tenant.
func (c *Client) SafeUpdate(ctx context.Context, req Request, anyOf ...Role) (Result, error) {
	res := c.pipeline.SafeUpdate(ctx, toInternalRequest(req), toRoleSet(anyOf))
	return toPublicResult(res), res.Err
}

// SafeDelete removes the rows matching req.Filter, constrained to the
// validated tenant.
func (c *Client) SafeDelete(ctx context.Context, req Request, anyOf ...Role) (Result, error) {
	res := c.pipeline.SafeDelete(ctx, toInternalRequest(req), toRoleSet(anyOf))
	return toPublicResult(res), res.Err
}

// CreateTenant registers a new tenant.
func (c *Client) CreateTenant(ctx context.Context, slug, name string) (Tenant, error) {
	t, err := c.db.CreateTenant(ctx, model.Tenant{Slug: slug, Name: name})
	if err != nil {
		return Tenant{}, err
	}
	return toPublicTenant(t), nil
}

// AddMember grants an actor a role within a tenant.
func (c *Client) AddMember(ctx context.Context, tenantID, actorID string, role Role) error {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return fmt.Errorf("fence: invalid tenant id: %w", err)
	}
	aid, err := uuid.Parse(actorID)
	if err != nil {
		return fmt.Errorf("fence: invalid actor id: %w", err)
	}
	_, err = c.db.CreateMembership(ctx, model.Membership{
		TenantID: tid,
		ActorID:  aid,
		Role:     model.Role(role),
	})
	return err
}

// AuditTrail returns a tenant's audit records, newest first.
func (c *Client) AuditTrail(ctx context.Context, tenantID string, limit, offset int) ([]AuditRecord, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("fence: invalid tenant id: %w", err)
	}
	records, err := c.db.ListAuditRecords(ctx, tid, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]AuditRecord, len(records))
	for i, r := range records {
		out[i] = toPublicAuditRecord(r)
	}
	return out, nil
}

// SecurityEvents returns a tenant's security events, newest first.
func (c *Client) SecurityEvents(ctx context.Context, tenantID string, limit, offset int) ([]SecurityEvent, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("fence: invalid tenant id: %w", err)
	}
	events, err := c.db.ListTenantSecurityEvents(ctx, tid, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]SecurityEvent, len(events))
	for i, ev := range events {
		out[i] = toPublicSecurityEvent(ev)
	}
	return out, nil
}

// IsMissingTenant reports whether err means no valid tenant id could be
// resolved from the request.
func IsMissingTenant(err error) bool { return scope.IsMissingTenant(err) }

// IsAuthorization reports whether err is an authentication or authorization
// failure (the request was rejected before any query was issued).
func IsAuthorization(err error) bool { return authz.IsAuthorization(err) }

// IsTenantMismatch reports whether err is a strict-mode rejection of a
// payload tenant id differing from the validated one.
func IsTenantMismatch(err error) bool { return guard.IsTenantMismatch(err) }

// Conversion helpers between the public surface and internal/model.

func toInternalRequest(req Request) model.MutationRequest {
	filter := make(model.Filter, len(req.Filter))
	for i, c := range req.Filter {
		filter[i] = model.Cond{Column: c.Column, Op: c.Op, Value: c.Value}
	}
	return model.MutationRequest{
		Table:           req.Table,
		Payload:         req.Payload,
		Set:             req.Set,
		Filter:          filter,
		ActorID:         req.ActorID,
		ClaimedTenantID: req.TenantID,
		RequestID:       req.RequestID,
		Metadata:        req.Metadata,
	}
}

func toRoleSet(anyOf []Role) model.RoleSet {
	set := make(model.RoleSet, len(anyOf))
	for _, r := range anyOf {
		set[model.Role(r)] = struct{}{}
	}
	return set
}

func toPublicResult(res pipeline.Result) Result {
	return Result{
		State:        string(res.State),
		Row:          res.Data,
		RowsAffected: res.Rows,
		EntityID:     res.EntityID,
		Rejected:     res.Rejected,
	}
}

func toPublicTenant(t model.Tenant) Tenant {
	return Tenant{
		ID:        t.ID.String(),
		Slug:      t.Slug,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
	}
}

func toPublicAuditRecord(r model.AuditRecord) AuditRecord {
	return AuditRecord{
		ID:         r.ID.String(),
		TenantID:   r.TenantID.String(),
		ActorID:    r.ActorID.String(),
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Payload:    r.Payload,
		RequestID:  r.RequestID,
		CreatedAt:  r.CreatedAt,
	}
}

func toPublicSecurityEvent(ev model.SecurityEvent) SecurityEvent {
	out := SecurityEvent{
		ID:        ev.ID.String(),
		EventType: string(ev.EventType),
		Source:    ev.Source,
		Metadata:  ev.Metadata,
		CreatedAt: ev.CreatedAt,
	}
	if ev.TenantID != nil {
		s := ev.TenantID.String()
		out.TenantID = &s
	}
	return out
}
