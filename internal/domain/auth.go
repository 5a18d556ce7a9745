package domain

// OperatorRole gates the management API.
type OperatorRole string

const (
	RoleAdmin  OperatorRole = "admin"
	RoleViewer OperatorRole = "viewer"
)

// Valid reports whether the role is known.
func (r OperatorRole) Valid() bool {
	return r == RoleAdmin || r == RoleViewer
}
