package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/auth"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

const (
	headerContentType = "Content-Type"
	headerETag        = "ETag"
	headerDAV         = "DAV"
	headerAllow       = "Allow"

	mimeTypeCalendar = "text/calendar; charset=utf-8"
	mimeTypeXML      = "application/xml; charset=utf-8"

	davCapabilities = "1, 3, calendar-access, calendar-schedule"
	allowedMethods  = "OPTIONS, PROPFIND, GET, PUT, DELETE, POST"
)

// RequestContext holds parsed information about the incoming CalDAV request.
type RequestContext struct {
	Resource Resource // calendar name, event uuid and resource type
	AuthUser string   // authenticated user id
	Email    string   // authenticated user's calendar address, may be empty
	Depth    xml.Depth
}

// CaldavHandler is the main HTTP handler for CalDAV requests under a specific prefix.
// Authentication happens in auth.Middleware; the handler expects a principal
// in the request context.
type CaldavHandler struct {
	Prefix       string // e.g., "/caldav/"
	Realm        string // Realm for Basic Auth
	Service      *Service
	Directory    auth.Directory // optional, resolves calendar user addresses
	URLConverter URLConverter
	Logger       *slog.Logger
}

// NewCaldavHandler creates a new CaldavHandler.
func NewCaldavHandler(prefix, realm string, service *Service, directory auth.Directory, converter URLConverter, logger *slog.Logger) *CaldavHandler {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	if converter == nil {
		converter = &DefaultURLConverter{Prefix: prefix}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CaldavHandler{
		Prefix:       prefix,
		Realm:        realm,
		Service:      service,
		Directory:    directory,
		URLConverter: converter,
		Logger:       logger,
	}
}

// ServeHTTP handles incoming HTTP requests, performs authentication, parsing, and routing.
func (h *CaldavHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Logger.Debug("request received",
		"method", r.Method,
		"path", r.URL.Path)

	principal, ok := h.checkAuth(w, r)
	if !ok {
		return
	}

	resource, err := h.URLConverter.ParsePath(r.URL.Path)
	if err != nil {
		h.Logger.Warn("failed to parse path",
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	depth, err := xml.ParseDepth(r.Header.Get("Depth"), mo.Some(0))
	if err != nil {
		h.Logger.Warn("invalid depth header",
			"depth", r.Header.Get("Depth"))
		http.Error(w, "Bad Request: invalid Depth", http.StatusBadRequest)
		return
	}

	ctx := &RequestContext{
		Resource: resource,
		AuthUser: principal.ID,
		Email:    h.userEmail(r, principal),
		Depth:    depth,
	}

	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(w, r, ctx)
	case "PROPFIND":
		h.handlePropfind(w, r, ctx)
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r, ctx)
	case http.MethodPut:
		h.handlePut(w, r, ctx)
	case http.MethodDelete:
		h.handleDelete(w, r, ctx)
	case http.MethodPost:
		h.handlePost(w, r, ctx)
	case "MKCOL", "MKCALENDAR":
		h.handleMkCalendar(w, r, ctx)
	default:
		h.Logger.Warn("method not allowed",
			"method", r.Method)
		w.Header().Set(headerAllow, allowedMethods)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CaldavHandler) handleOptions(w http.ResponseWriter, _ *http.Request, _ *RequestContext) {
	w.Header().Set(headerAllow, allowedMethods)
	w.Header().Set(headerDAV, davCapabilities)
	w.WriteHeader(http.StatusOK)
}

// ServeWellKnown redirects /.well-known/caldav to the calendar home set.
func (h *CaldavHandler) ServeWellKnown(w http.ResponseWriter, r *http.Request) {
	home, err := h.URLConverter.EncodePath(Resource{ResourceType: storage.ResourceHomeSet})
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, home, http.StatusMovedPermanently)
}

// userEmail resolves the principal's calendar address, preferring the
// directory over the address the authenticator attached.
func (h *CaldavHandler) userEmail(r *http.Request, p *auth.Principal) string {
	if h.Directory != nil {
		email, err := h.Directory.Email(r.Context(), p.ID)
		if err == nil {
			return email
		}
		h.Logger.Debug("no directory address for user",
			"user", p.ID,
			"error", err)
	}
	return p.Email
}

// calendar loads the calendar a resource belongs to and checks the user may
// read it. It writes the error response itself.
func (h *CaldavHandler) calendar(w http.ResponseWriter, r *http.Request, ctx *RequestContext) (*storage.Calendar, bool) {
	cal, err := h.Service.Calendar(r.Context(), ctx.Resource.Calendar)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if !cal.CanRead(ctx.AuthUser) {
		h.Logger.Warn("read access denied",
			"user", ctx.AuthUser,
			"calendar", cal.Name)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	return cal, true
}

// writeError maps a service error to its HTTP status.
func (h *CaldavHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			"error", err)
		http.Error(w, "Internal Server Error", status)
		return
	}
	h.Logger.Warn("request rejected",
		"status", status,
		"error", err)
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var authErr *auth.Error
	switch {
	case storage.IsValidation(err):
		return http.StatusBadRequest
	case storage.IsNotFound(err):
		return http.StatusNotFound
	case storage.IsPermissionDenied(err):
		return http.StatusForbidden
	case storage.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &authErr) && authErr.Type == auth.ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
