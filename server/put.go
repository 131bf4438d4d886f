package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handlePut(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("put request received",
		"resource_type", ctx.Resource.ResourceType,
		"user", ctx.AuthUser,
		"calendar", ctx.Resource.Calendar,
		"event", ctx.Resource.Event)

	switch ctx.Resource.ResourceType {
	case storage.ResourceObject:
	case storage.ResourceCalendarFile:
		h.Logger.Warn("put on whole calendar refused",
			"calendar", ctx.Resource.Calendar)
		http.Error(w, "Forbidden: the calendar file is read-only", http.StatusForbidden)
		return
	default:
		h.Logger.Warn("put not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	cal, ok := h.calendar(w, r, ctx)
	if !ok {
		return
	}

	// 1) Load existing event (or note that it doesn't exist)
	currentETag := ""
	existing, err := h.Service.EventByUUID(r.Context(), cal.ID, ctx.Resource.Event)
	switch {
	case storage.IsNotFound(err):
		h.Logger.Debug("event does not exist, will create new")
	case err != nil:
		h.writeError(w, err)
		return
	default:
		text, err := h.Service.RenderEventAsText(r.Context(), existing.ID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		currentETag = ETag(text)
		h.Logger.Debug("existing event found",
			"etag", currentETag)
	}

	// 2) Validate preconditions
	ifMatch := r.Header.Get("If-Match")
	ifNone := r.Header.Get("If-None-Match")
	if existing != nil {
		if ifMatch != "" && ifMatch != "*" && ifMatch != currentETag {
			h.Logger.Warn("etag mismatch",
				"client_etag", ifMatch,
				"server_etag", currentETag)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		if ifNone == "*" || (ifNone != "" && ifNone == currentETag) {
			h.Logger.Warn("if-none-match matched existing resource")
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	} else if ifMatch != "" {
		h.Logger.Warn("if-match used on non-existent resource",
			"etag", ifMatch)
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	// 3) Check Content-Type
	contentType := r.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, "text/calendar") {
		h.Logger.Warn("unsupported media type",
			"content_type", contentType)
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}

	// 4) Read & store
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("failed to read request body",
			"error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	r.Body.Close()

	ev, created, err := h.Service.PutEvent(r.Context(), ctx.AuthUser, cal.ID, ctx.Resource.Event, string(data))
	if err != nil {
		h.writeError(w, err)
		return
	}

	// 5) Respond
	text, err := h.Service.RenderEventAsText(r.Context(), ev.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set(headerETag, ETag(text))
	if !created {
		h.Logger.Info("event updated successfully",
			"uuid", ev.UUID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	location, err := h.URLConverter.EncodePath(Resource{Calendar: cal.Name, Event: ev.UUID, ResourceType: storage.ResourceObject})
	if err != nil {
		h.Logger.Error("unexpected error encoding path",
			"error", err,
			"uuid", ev.UUID)
		http.Error(w, "Failed to encode path", http.StatusInternalServerError)
		return
	}
	h.Logger.Info("event created successfully",
		"path", location,
		"uuid", ev.UUID)
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusCreated)
}
