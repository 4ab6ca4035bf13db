package auth

import "strings"

// WildcardAll grants every permission to a role that carries it.
const WildcardAll = "*"

const wildcardSuffix = ":*"

// Matrix is an immutable role to permission-set mapping. It is constructed
// once at process start and injected into anything that authorizes.
type Matrix struct {
	roles map[string]map[string]struct{}
}

// NewMatrix builds a Matrix from role names to permission lists. The input is
// copied; callers may not mutate the matrix afterwards.
func NewMatrix(roles map[string][]string) *Matrix {
	m := &Matrix{roles: make(map[string]map[string]struct{}, len(roles))}
	for role, perms := range roles {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			set[p] = struct{}{}
		}
		m.roles[strings.ToLower(strings.TrimSpace(role))] = set
	}
	return m
}

// DefaultMatrix returns the built-in role grants.
func DefaultMatrix() *Matrix {
	return NewMatrix(map[string][]string{
		RoleAdmin:  {WildcardAll},
		RoleEditor: {"content:*", "audit:read"},
		RoleViewer: {"content:read"},
	})
}

// HasPermission reports whether the role may exercise the named permission.
// Matching order: the all-permissions wildcard, then the exact string, then
// any "resource:*" entry whose prefix matches up to a ":" boundary. Unknown
// roles and empty inputs deny.
func (m *Matrix) HasPermission(role, permission string) bool {
	if m == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	permission = strings.TrimSpace(permission)
	if role == "" || permission == "" {
		return false
	}
	set, ok := m.roles[role]
	if !ok {
		return false
	}
	if _, ok := set[WildcardAll]; ok {
		return true
	}
	if _, ok := set[permission]; ok {
		return true
	}
	for entry := range set {
		if !strings.HasSuffix(entry, wildcardSuffix) {
			continue
		}
		prefix := strings.TrimSuffix(entry, wildcardSuffix)
		if strings.HasPrefix(permission, prefix+":") {
			return true
		}
	}
	return false
}

// Roles returns the role names known to the matrix.
func (m *Matrix) Roles() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.roles))
	for role := range m.roles {
		out = append(out, role)
	}
	return out
}
