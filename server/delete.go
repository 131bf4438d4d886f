package server

import (
	"net/http"

	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleDelete(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("delete request received",
		"resource_type", ctx.Resource.ResourceType,
		"user", ctx.AuthUser,
		"calendar", ctx.Resource.Calendar,
		"event", ctx.Resource.Event)

	switch ctx.Resource.ResourceType {
	case storage.ResourceObject, storage.ResourceCollection:
	case storage.ResourceCalendarFile:
		http.Error(w, "Forbidden: the calendar file is read-only", http.StatusForbidden)
		return
	default:
		h.Logger.Warn("delete not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	cal, ok := h.calendar(w, r, ctx)
	if !ok {
		return
	}

	if ctx.Resource.ResourceType == storage.ResourceCollection {
		if err := h.Service.DeleteCalendar(r.Context(), ctx.AuthUser, cal.ID); err != nil {
			h.writeError(w, err)
			return
		}
		h.Logger.Info("calendar deleted successfully",
			"calendar", cal.Name)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev, err := h.Service.EventByUUID(r.Context(), cal.ID, ctx.Resource.Event)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Check If-Match header for ETag validation
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" && ifMatch != "*" {
		text, err := h.Service.RenderEventAsText(r.Context(), ev.ID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if etag := ETag(text); ifMatch != etag {
			h.Logger.Warn("etag mismatch",
				"client_etag", ifMatch,
				"server_etag", etag)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	}

	if err := h.Service.DeleteEvent(r.Context(), ctx.AuthUser, ev.ID); err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("event deleted successfully",
		"uuid", ev.UUID)
	w.WriteHeader(http.StatusNoContent)
}
