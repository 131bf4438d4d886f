package server

import (
	"net/http"

	"github.com/cyp0633/caldora/server/auth"
)

// checkAuth reads the principal auth.Middleware attached to the request.
// Returns the principal and true if present.
func (h *CaldavHandler) checkAuth(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal := auth.GetPrincipalFromContext(r.Context())
	if principal == nil || principal.ID == "" {
		h.Logger.Info("authentication required - no principal in context",
			"path", r.URL.Path)
		auth.RequestAuth(w, h.Realm)
		return nil, false
	}
	h.Logger.Debug("request authenticated",
		"user", principal.ID)
	return principal, true
}
