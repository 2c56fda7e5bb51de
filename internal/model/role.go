package model

// Role is an actor's role within one tenant.
//
// Roles are compared by set membership only. There is deliberately no rank
// or "at least" helper: a call site that accepts dispatchers and admins says
// so explicitly, and granting owner does not implicitly grant anything a call
// site did not list.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
	RoleViewer     Role = "viewer"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleOwner, RoleAdmin, RoleDispatcher, RoleDriver, RoleViewer}

// ValidRole reports whether r is one of the enumerated roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleDispatcher, RoleDriver, RoleViewer:
		return true
	}
	return false
}

// RoleSet is an explicit set of acceptable roles for a mutation call site.
type RoleSet map[Role]struct{}

// Roles builds a RoleSet from its arguments.
func Roles(rs ...Role) RoleSet {
	set := make(RoleSet, len(rs))
	for _, r := range rs {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports whether r is in the set.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Names returns the set's roles as sorted strings, for logging and errors.
func (s RoleSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, r := range AllRoles {
		if s.Contains(r) {
			names = append(names, string(r))
		}
	}
	return names
}
