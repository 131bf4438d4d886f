package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
)

// handlePost answers free/busy requests posted to a schedule outbox. The
// outbox of a user is their own calendar collection.
func (h *CaldavHandler) handlePost(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("post request received",
		"resource_type", ctx.Resource.ResourceType,
		"user", ctx.AuthUser,
		"calendar", ctx.Resource.Calendar)

	if ctx.Resource.ResourceType != storage.ResourceCollection {
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, "text/calendar") {
		h.Logger.Warn("unsupported media type",
			"content_type", contentType)
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}

	cal, ok := h.calendar(w, r, ctx)
	if !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("failed to read request body",
			"error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}

	body, err := h.Service.HandleSchedulePost(r.Context(), ctx.AuthUser, cal.ID, string(data))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		h.Logger.Error("failed to write response",
			"error", err)
	}
}
