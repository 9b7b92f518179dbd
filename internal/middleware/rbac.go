package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// RBACMiddleware enforces role-based access control on top of the JWT principal.
type RBACMiddleware struct {
	rolePermissions map[string][]string // role -> list of allowed paths
}

// NewRBACMiddleware creates a new RBAC middleware
func NewRBACMiddleware(rolePermissions map[string][]string) *RBACMiddleware {
	if rolePermissions == nil {
		rolePermissions = make(map[string][]string)
	}
	return &RBACMiddleware{
		rolePermissions: rolePermissions,
	}
}

// Handler returns the middleware handler
func (rm *RBACMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || p.Role == "" {
				http.Error(w, "Unauthorized: no role specified", http.StatusUnauthorized)
				return
			}

			if !rm.hasAccessToPath(p.Role, r.URL.Path) {
				log.Warn().Str("role", p.Role).Str("subject", p.Subject).Str("path", r.URL.Path).Msg("rbac denied")
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rm *RBACMiddleware) hasAccessToPath(role, path string) bool {
	permissions, exists := rm.rolePermissions[role]
	if !exists {
		return false
	}
	for _, perm := range permissions {
		if matchPath(perm, path) {
			return true
		}
	}
	return false
}

// matchPath checks if a permission pattern matches a path
// Supports wildcards: /admin/* matches /admin/accounts
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(path, prefix+"/")
	}
	return false
}

// DefaultRolePermissions grants admins every operator route and lets
// operators reset accounts.
func DefaultRolePermissions() map[string][]string {
	return map[string][]string{
		"admin": {
			"/admin/*",
			"/reset",
		},
		"operator": {
			"/reset",
		},
		"viewer": {
			"/admin/accounts",
		},
	}
}
