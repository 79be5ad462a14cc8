package models

// Principal is the acting user supplied by callers of protected writes.
// It is passed explicitly; there is no ambient "current user".
type Principal struct {
	ID         string `json:"id"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role"`
	EmployeeID string `json:"employeeId,omitempty"`
}

// Capabilities checked against the permission collaborator
const (
	CapabilityManageCentres = "manage_centres"
	CapabilityManagePricing = "manage_pricing"
	CapabilityManageUsers   = "manage_users"
)

// SystemPrincipal is used by background writers (inbox, resolver)
var SystemPrincipal = Principal{ID: "system", Role: "system"}

// IsZero reports whether no principal was supplied
func (p Principal) IsZero() bool {
	return p.ID == "" && p.Role == ""
}
