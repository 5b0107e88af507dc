package devicekit

import (
	"fmt"
	"strings"
)

// Role is the access level a user holds on a device.
// Roles are totally ordered: viewer < editor < owner.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// ClaimAdmin is the claim that grants access to every device.
const ClaimAdmin = "admin"

var roleRanks = map[Role]int{
	RoleViewer: 0,
	RoleEditor: 1,
	RoleOwner:  2,
}

// Rank returns the privilege level of a role.
// Unrecognized roles rank 0, the lowest level.
func Rank(role Role) int {
	return roleRanks[role]
}

// Meets reports whether actual is at least as privileged as required.
// An unrecognized actual role meets nothing, not even viewer.
func Meets(actual, required Role) bool {
	if !actual.IsValid() {
		return false
	}
	return Rank(actual) >= Rank(required)
}

// Roles returns the known roles from least to most privileged.
func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleOwner}
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := roleRanks[r]
	return ok
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// ParseRole validates a role name received at the boundary.
// An empty string yields the default role, viewer.
//
// Example:
//
//	role, err := devicekit.ParseRole(req.Role)
//	if err != nil {
//	    // 400 Bad Request
//	}
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RoleViewer, nil
	}
	role := Role(strings.ToLower(s))
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return role, nil
}

// NormalizeRole trims and lowercases a role name without validating it.
// An empty string yields viewer. Unrecognized names are kept as given;
// they rank 0 and grant no access.
func NormalizeRole(s string) Role {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleViewer
	}
	return Role(s)
}
