package enums

// OperatorRole scopes what an admin API caller may do.
type OperatorRole string

const (
	// OperatorRoleAdmin may trigger syncs and resolve amendments.
	OperatorRoleAdmin OperatorRole = "admin"
	// OperatorRoleViewer is read-only.
	OperatorRoleViewer OperatorRole = "viewer"
)

var validOperatorRoles = values[OperatorRole]{
	OperatorRoleAdmin,
	OperatorRoleViewer,
}

func (r OperatorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known OperatorRole.
func (r OperatorRole) IsValid() bool {
	return validOperatorRoles.has(r)
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	return validOperatorRoles.parse(value, "operator role")
}
