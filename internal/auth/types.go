package auth

import (
	"errors"
	"strings"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer may read resources and pattern instances.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally write resource values.
	RoleOperator Role = "operator"

	// RoleAdmin may change graph structure, activate resources in bulk and
	// decorate resources owned by others.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin can do plus system administration:
	// schema reloads and token issuing.
	RoleOwner Role = "owner"
)

// ValidRoles is the set of valid roles, lowest first.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin, RoleOwner}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// PathScope restricts a consumer to subtrees of the graph.
// A nil PathScope means unrestricted access.
type PathScope struct {
	// Prefixes are location paths; the consumer may touch each prefix and
	// everything below it.
	Prefixes []string
}

// NewPathScope returns a scope for prefixes, or nil when prefixes is empty.
func NewPathScope(prefixes []string) *PathScope {
	if len(prefixes) == 0 {
		return nil
	}
	return &PathScope{Prefixes: append([]string(nil), prefixes...)}
}

// CanAccess returns true if path is inside the scope.
func (s *PathScope) CanAccess(path string) bool {
	if s == nil {
		return true // unrestricted
	}
	for _, p := range s.Prefixes {
		p = strings.Trim(p, resource.PathSeparator)
		if path == p || strings.HasPrefix(path, p+resource.PathSeparator) {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrOutOfScope   = errors.New("resource outside consumer scope")
)
