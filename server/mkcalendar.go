package server

import (
	"net/http"
)

// handleMkCalendar refuses collection creation. Every user has exactly one
// calendar, provisioned outside the protocol.
func (h *CaldavHandler) handleMkCalendar(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Warn("calendar creation refused",
		"method", r.Method,
		"user", ctx.AuthUser,
		"resource_type", ctx.Resource.ResourceType,
		"calendar", ctx.Resource.Calendar)
	http.Error(w, "Forbidden: calendars cannot be created", http.StatusForbidden)
}
