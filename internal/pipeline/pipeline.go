// Package pipeline orchestrates one guarded mutation end to end:
// scope guard, role check, scoped query, audit write.
//
// Per request the pipeline is a forward-only state machine:
//
//	received -> tenant_resolved -> authorized -> executed -> audited -> complete|failed
//
// Failures before execution (missing tenant, authorization) short-circuit
// with no query issued and are reported as rejections; failures during
// execution still get an audit record before the result is returned. The
// pipeline holds no state between requests and never retries; sequencing and
// retry policy belong to the caller.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/authz"
	"github.com/fieldline/fence/internal/guard"
	"github.com/fieldline/fence/internal/model"
)

// AuditLogger is the slice of audit.Logger the pipeline needs.
type AuditLogger interface {
	LogAction(ctx context.Context, rec model.AuditRecord)
	LogSecurityEvent(ctx context.Context, ev model.SecurityEvent)
}

// ScopeGuard validates claimed tenant ids. Satisfied by scope.Guard.
type ScopeGuard interface {
	RequireTenantID(ctx context.Context, candidate string) (uuid.UUID, error)
}

// RoleAuthorizer checks role requirements. Satisfied by authz.Authorizer.
type RoleAuthorizer interface {
	RequireRole(ctx context.Context, req authz.Requirement) error
}

// Result is the discriminated outcome of one mutation request. Callers
// branch on Err and Rejected instead of catching anything: Rejected
// distinguishes "rejected before execution" (authorization family, show
// permission denied) from "executed but failed" (store family, possibly
// transient).
type Result struct {
	State    model.PipelineState
	Data     map[string]any // row as persisted, inserts only
	Rows     int64          // rows affected, updates and deletes
	EntityID *string        // persisted row id, successful inserts only
	Err      error
	Rejected bool
}

// OK reports whether the mutation executed and succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Config tunes the pipeline.
type Config struct {
	// StrictTenantMismatch is passed through to the query builder: reject
	// mismatched payload tenant ids instead of silently correcting them.
	StrictTenantMismatch bool
}

// Pipeline runs guarded mutations against one store.
type Pipeline struct {
	db     guard.Querier
	scope  ScopeGuard
	authz  RoleAuthorizer
	audit  AuditLogger
	logger *slog.Logger
	cfg    Config
}

// New assembles a Pipeline from its collaborators.
func New(db guard.Querier, sg ScopeGuard, az RoleAuthorizer, al AuditLogger, logger *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{db: db, scope: sg, authz: az, audit: al, logger: logger, cfg: cfg}
}

// Run executes one mutation request, requiring the actor to hold one of the
// given roles in the claimed tenant.
func (p *Pipeline) Run(ctx context.Context, req model.MutationRequest, required model.RoleSet) Result {
	res := Result{State: model.StateReceived}

	// received -> tenant_resolved. A failed scope check has already recorded
	// its security event by the time the error surfaces here.
	tenantID, err := p.scope.RequireTenantID(ctx, req.ClaimedTenantID)
	if err != nil {
		return p.reject(res, err)
	}
	res.State = model.StateTenantResolved

	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		return p.reject(res, &authz.AuthorizationError{
			Status:  http.StatusUnauthorized,
			Message: fmt.Sprintf("unresolvable actor id %q", req.ActorID),
		})
	}

	// tenant_resolved -> authorized.
	if err := p.authz.RequireRole(ctx, authz.Requirement{
		TenantID: tenantID,
		ActorID:  actorID,
		AnyOf:    required,
	}); err != nil {
		return p.reject(res, err)
	}
	res.State = model.StateAuthorized

	handle, err := guard.TenantTable(p.db, tenantID, req.Table, guard.Options{
		Strict: p.cfg.StrictTenantMismatch,
		Logger: p.logger,
		Events: p.audit,
	})
	if err != nil {
		return p.reject(res, err)
	}

	// authorized -> executed. From here on the outcome is audited whether
	// the query succeeded or not.
	execErr := p.execute(ctx, handle, req, &res)
	res.State = model.StateExecuted

	// executed -> audited. The audit write is awaited (bounding the result
	// by the sink's response time) but can never fail the mutation.
	p.audit.LogAction(ctx, p.buildAuditRecord(req, tenantID, actorID, &res, execErr))
	res.State = model.StateAudited

	if execErr != nil {
		res.State = model.StateFailed
		res.Err = execErr
		return res
	}
	res.State = model.StateComplete
	return res
}

// execute dispatches the operation through the scoped handle, filling in the
// operation-specific result fields.
func (p *Pipeline) execute(ctx context.Context, handle *guard.Handle, req model.MutationRequest, res *Result) error {
	switch req.Operation {
	case model.OpInsert:
		row, err := handle.Insert(ctx, req.Payload)
		if err != nil {
			return err
		}
		res.Data = row
		if id, ok := row["id"]; ok {
			s := fmt.Sprint(id)
			res.EntityID = &s
		}
		return nil

	case model.OpUpdate:
		rows, err := handle.Update(ctx, req.Set, req.Filter)
		if err != nil {
			return err
		}
		res.Rows = rows
		return nil

	case model.OpDelete:
		rows, err := handle.Delete(ctx, req.Filter)
		if err != nil {
			return err
		}
		res.Rows = rows
		return nil

	default:
		return fmt.Errorf("pipeline: unsupported operation %q", req.Operation)
	}
}

// reject finalizes a request that failed before any query was issued.
func (p *Pipeline) reject(res Result, err error) Result {
	res.State = model.StateFailed
	res.Err = err
	res.Rejected = true
	return res
}

// buildAuditRecord snapshots the mutation for the audit trail. Failed
// executions are logged with a nil entity id and the error in the payload.
func (p *Pipeline) buildAuditRecord(req model.MutationRequest, tenantID, actorID uuid.UUID, res *Result, execErr error) model.AuditRecord {
	payload := map[string]any{}
	switch req.Operation {
	case model.OpInsert:
		if res.Data != nil {
			payload["row"] = res.Data
		} else {
			payload["row"] = req.Payload
		}
	case model.OpUpdate:
		payload["set"] = req.Set
		payload["filter"] = filterSnapshot(req.Filter)
		payload["rows_affected"] = res.Rows
	case model.OpDelete:
		payload["filter"] = filterSnapshot(req.Filter)
		payload["rows_affected"] = res.Rows
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	if execErr != nil {
		payload["error"] = execErr.Error()
	}

	rec := model.AuditRecord{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     fmt.Sprintf("%s_%s", req.Operation, req.Table),
		EntityType: req.Table,
		Payload:    payload,
		RequestID:  req.RequestID,
	}
	if execErr == nil {
		rec.EntityID = res.EntityID
	}
	return rec
}

// filterSnapshot renders a filter for the audit payload.
func filterSnapshot(f model.Filter) []map[string]any {
	out := make([]map[string]any, 0, len(f))
	for _, c := range f {
		out = append(out, map[string]any{
			"column": c.Column,
			"op":     c.Op,
			"value":  fmt.Sprint(c.Value),
		})
	}
	return out
}
