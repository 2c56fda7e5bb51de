package pipeline

import (
	"context"

	"github.com/fieldline/fence/internal/model"
)

// SafeInsert inserts payload into table on behalf of the actor, requiring
// one of the given roles in the claimed tenant. The persisted row's
// tenant_id always equals the validated tenant id, whatever the payload said.
func (p *Pipeline) SafeInsert(ctx context.Context, req model.MutationRequest, required model.RoleSet) Result {
	req.Operation = model.OpInsert
	return p.Run(ctx, req, required)
}

// SafeUpdate applies req.Set to the rows matching req.Filter, constrained to
// the validated tenant.
func (p *Pipeline) SafeUpdate(ctx context.Context, req model.MutationRequest, required model.RoleSet) Result {
	req.Operation = model.OpUpdate
	return p.Run(ctx, req, required)
}

// SafeDelete removes the rows matching req.Filter, constrained to the
// validated tenant.
func (p *Pipeline) SafeDelete(ctx context.Context, req model.MutationRequest, required model.RoleSet) Result {
	req.Operation = model.OpDelete
	return p.Run(ctx, req, required)
}
