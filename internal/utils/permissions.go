package utils

import "github.com/xelth-com/dairysync/internal/models"

// Roles known to the default policy
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleOperator   = "operator"
	RoleSystem     = "system"
)

// RolePolicy grants capabilities by role. It is the default implementation
// of the registry's permission collaborator.
type RolePolicy struct {
	grants map[string]map[string]bool
}

// NewRolePolicy returns the default grants: admins and the system principal
// may do everything, supervisors manage centres, operators only collect.
func NewRolePolicy() *RolePolicy {
	p := &RolePolicy{grants: make(map[string]map[string]bool)}
	p.Grant(RoleSupervisor, models.CapabilityManageCentres)
	return p
}

// Grant adds a capability to a role
func (p *RolePolicy) Grant(role, capability string) {
	if p.grants[role] == nil {
		p.grants[role] = make(map[string]bool)
	}
	p.grants[role][capability] = true
}

// HasPermission reports whether the principal holds the capability
func (p *RolePolicy) HasPermission(principal models.Principal, capability string) bool {
	switch principal.Role {
	case RoleAdmin, RoleSystem:
		return true
	case "":
		return false
	}
	return p.grants[principal.Role][capability]
}
