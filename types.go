package fence

import "time"

// Role is an actor's role within one tenant. Roles are compared by set
// membership only: a call site that accepts dispatchers and admins says so
// explicitly, and no role implicitly grants another's access.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
	RoleViewer     Role = "viewer"
)

// Cond is a single column comparison in a filter.
type Cond struct {
	Column string
	Op     string // one of =, !=, <, <=, >, >=, in
	Value  any
}

// Request is one attempted mutation of tenant-scoped data. ActorID and
// TenantID arrive as raw strings from the application's identity layer and
// are treated as untrusted until validated.
type Request struct {
	Table     string
	Payload   map[string]any // insert row
	Set       map[string]any // update assignments
	Filter    []Cond         // update/delete row selection, ANDed
	ActorID   string
	TenantID  string
	RequestID string
	Metadata  map[string]any // extra context copied into the audit record
}

// Result is the outcome of one mutation. When the returned error is non-nil,
// Rejected distinguishes "refused before execution" (show permission denied)
// from "executed but failed" (possibly transient).
type Result struct {
	State        string
	Row          map[string]any // row as persisted, inserts only
	RowsAffected int64          // updates and deletes
	EntityID     *string        // persisted row id, successful inserts only
	Rejected     bool
}

// Tenant is an isolated customer/organization boundary.
type Tenant struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
}

// AuditRecord is one append-only entry in the mutation audit trail.
type AuditRecord struct {
	ID         string
	TenantID   string
	ActorID    string
	Action     string
	EntityType string
	EntityID   *string // nil for failed mutations
	Payload    map[string]any
	RequestID  string
	CreatedAt  time.Time
}

// SecurityEvent is an append-only record of a security anomaly. TenantID is
// nil when the anomaly is precisely that no tenant could be resolved.
type SecurityEvent struct {
	ID        string
	TenantID  *string
	EventType string
	Source    string
	Metadata  map[string]any
	CreatedAt time.Time
}
