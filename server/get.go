package server

import (
	"fmt"
	"net/http"

	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleGet(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("get request received",
		"resource_type", ctx.Resource.ResourceType,
		"calendar", ctx.Resource.Calendar,
		"event", ctx.Resource.Event)

	if ctx.Resource.ResourceType != storage.ResourceObject && ctx.Resource.ResourceType != storage.ResourceCalendarFile {
		h.Logger.Warn("get not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	cal, ok := h.calendar(w, r, ctx)
	if !ok {
		return
	}
	text, err := h.renderResource(r, cal, ctx.Resource)
	if err != nil {
		h.writeError(w, err)
		return
	}

	etag := ETag(text)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set(headerContentType, mimeTypeCalendar)
	w.Header().Set("Content-Length", fmt.Sprint(len(text)))
	w.Header().Set(headerETag, etag)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write([]byte(text)); err != nil {
		h.Logger.Error("failed to write response",
			"error", err)
	}
}

// renderResource renders a calendar file or event resource of cal.
func (h *CaldavHandler) renderResource(r *http.Request, cal *storage.Calendar, res Resource) (string, error) {
	if res.ResourceType == storage.ResourceCalendarFile {
		return h.Service.RenderCalendarAsText(r.Context(), cal.ID)
	}
	ev, err := h.Service.EventByUUID(r.Context(), cal.ID, res.Event)
	if err != nil {
		return "", err
	}
	return h.Service.RenderEventAsText(r.Context(), ev.ID)
}
