// Package auth contains the domain types and interfaces for credential
// verification.
package auth

// Role represents a role granted to a principal for authorization purposes.
type Role string

const (
	// RoleAdmin has full access to all operations.
	RoleAdmin Role = "admin"
	// RoleUser has standard access to most operations.
	RoleUser Role = "user"
	// RoleReadOnly has read-only access to operations.
	RoleReadOnly Role = "read-only"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleReadOnly:
		return true
	default:
		return false
	}
}

// Principal represents a user or service that can authenticate.
// Principals are owned by the CredentialStore; the session manager only
// reads them and never mutates them in place.
type Principal struct {
	// ID is the unique identifier for this principal.
	ID string
	// Identity is the login name presented at authentication time.
	Identity string
	// SecretHash is the stored password hash in PHC format.
	SecretHash string
	// Roles are the roles assigned to this principal.
	Roles []Role
	// Disabled blocks authentication without deleting the record.
	Disabled bool
}

// HasRole returns true if the principal has the specified role.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the principal has any of the specified roles.
func (p *Principal) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}
