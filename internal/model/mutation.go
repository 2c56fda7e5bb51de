package model

// Operation is a persistence operation issued through the guarded pipeline.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSelect Operation = "select"
)

// MutationRequest is one attempted mutation of tenant-scoped data.
//
// ActorID and ClaimedTenantID arrive as raw strings from the caller's
// identity collaborator and are treated as untrusted until ScopeGuard and
// the role check validate them. They are always explicit parameters, never
// read from ambient context.
type MutationRequest struct {
	Operation       Operation      `json:"operation"`
	Table           string         `json:"table"`
	Payload         map[string]any `json:"payload,omitempty"`
	Set             map[string]any `json:"set,omitempty"`
	Filter          Filter         `json:"-"`
	ActorID         string         `json:"actor_id"`
	ClaimedTenantID string         `json:"claimed_tenant_id"`
	RequestID       string         `json:"request_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// PipelineState is the state of a mutation request as it moves through the
// pipeline. Transitions are strictly forward:
//
//	received -> tenant_resolved -> authorized -> executed -> audited -> complete|failed
//
// A request that fails before execution jumps directly to failed.
type PipelineState string

const (
	StateReceived       PipelineState = "received"
	StateTenantResolved PipelineState = "tenant_resolved"
	StateAuthorized     PipelineState = "authorized"
	StateExecuted       PipelineState = "executed"
	StateAudited        PipelineState = "audited"
	StateComplete       PipelineState = "complete"
	StateFailed         PipelineState = "failed"
)
