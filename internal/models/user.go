package models

import "strings"

// Role is a closed enumeration of plant roles.
type Role string

const (
	RoleOperator      Role = "operator"
	RoleSupervisor    Role = "supervisor"
	RoleEngineer      Role = "engineer"
	RoleAdministrator Role = "administrator"
	RoleAuditor       Role = "auditor"
)

// roleLevels orders the execution hierarchy. Auditor is read-only and has no level.
var roleLevels = map[Role]int{
	RoleOperator:      1,
	RoleSupervisor:    2,
	RoleEngineer:      3,
	RoleAdministrator: 4,
}

// ParseRole normalizes a free-form role name. Unknown names return "".
func ParseRole(value string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if r == RoleAuditor {
		return r
	}
	if _, ok := roleLevels[r]; ok {
		return r
	}
	return ""
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAuditor || roleLevels[r] > 0
}

// Level returns the position of r in the execution hierarchy; 0 for roles that execute nothing.
func (r Role) Level() int {
	return roleLevels[r]
}

// Satisfies reports whether r may execute a step that requires the given role.
func (r Role) Satisfies(required Role) bool {
	level := r.Level()
	if level == 0 || required.Level() == 0 {
		return false
	}
	return level >= required.Level()
}

// Outranks reports whether r is strictly above other in the execution hierarchy.
func (r Role) Outranks(other Role) bool {
	level := r.Level()
	return level > 0 && level > other.Level()
}

// User is the identity and role pair resolved by the identity provider.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Role     Role   `json:"role" yaml:"role"`
	IsActive bool   `json:"isActive" yaml:"active"`
}
