package server

import (
	"net/http"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
)

// maxDepth bounds Depth: infinity. Objects sit three levels below the root.
const maxDepth = 3

// target is one resource a PROPFIND reports on, with the records it was
// reached through.
type target struct {
	res      Resource
	calendar *storage.Calendar
	event    *storage.Event
}

func (h *CaldavHandler) handlePropfind(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("propfind request received",
		"resource_type", ctx.Resource.ResourceType,
		"calendar", ctx.Resource.Calendar,
		"event", ctx.Resource.Event,
		"depth", ctx.Depth.OrElse(-1))

	req, err := xml.ParsePropfind(r.Body)
	if err != nil {
		h.Logger.Warn("failed to parse propfind request",
			"error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	root := target{res: ctx.Resource}
	switch ctx.Resource.ResourceType {
	case storage.ResourceCollection, storage.ResourceCalendarFile, storage.ResourceObject:
		cal, ok := h.calendar(w, r, ctx)
		if !ok {
			return
		}
		root.calendar = cal
		if ctx.Resource.ResourceType == storage.ResourceObject {
			ev, err := h.Service.EventByUUID(r.Context(), cal.ID, ctx.Resource.Event)
			if err != nil {
				h.writeError(w, err)
				return
			}
			root.event = ev
		}
	}

	var targets []target
	if err := h.collect(r, ctx, root, ctx.Depth.OrElse(maxDepth), &targets); err != nil {
		h.writeError(w, err)
		return
	}

	ms := &xml.MultistatusResponse{}
	for _, t := range targets {
		resp, err := h.propfindResponse(r, ctx, req, t)
		if err != nil {
			h.writeError(w, err)
			return
		}
		ms.Responses = append(ms.Responses, resp)
	}

	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := ms.WriteTo(w); err != nil {
		h.Logger.Error("failed to write multistatus",
			"error", err)
	}
}

// collect appends t and its members down to depth levels.
func (h *CaldavHandler) collect(r *http.Request, ctx *RequestContext, t target, depth int, out *[]target) error {
	*out = append(*out, t)
	if depth <= 0 {
		return nil
	}
	members, err := h.members(r, ctx, t)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := h.collect(r, ctx, m, depth-1, out); err != nil {
			return err
		}
	}
	return nil
}

// members lists the direct children of a resource: the home set under the
// root, every readable calendar (as collection and file) under the home set,
// and the events of a collection.
func (h *CaldavHandler) members(r *http.Request, ctx *RequestContext, t target) ([]target, error) {
	switch t.res.ResourceType {
	case storage.ResourceServiceRoot:
		return []target{{res: Resource{ResourceType: storage.ResourceHomeSet}}}, nil

	case storage.ResourceHomeSet:
		cals, err := h.Service.ReadableCalendars(r.Context(), ctx.AuthUser)
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, 2*len(cals))
		for _, cal := range cals {
			out = append(out,
				target{res: Resource{Calendar: cal.Name, ResourceType: storage.ResourceCollection}, calendar: cal},
				target{res: Resource{Calendar: cal.Name, ResourceType: storage.ResourceCalendarFile}, calendar: cal})
		}
		return out, nil

	case storage.ResourceCollection:
		events, err := h.Service.Events(r.Context(), t.calendar.ID)
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, len(events))
		for _, ev := range events {
			out = append(out, target{
				res:      Resource{Calendar: t.calendar.Name, Event: ev.UUID, ResourceType: storage.ResourceObject},
				calendar: t.calendar,
				event:    ev,
			})
		}
		return out, nil

	default:
		return nil, nil
	}
}

func (h *CaldavHandler) propfindResponse(r *http.Request, ctx *RequestContext, req xml.PropfindRequest, t target) (xml.Response, error) {
	env := newPropEnv(h, r, ctx, t)
	href, err := env.ResourceHref()
	if err != nil {
		return xml.Response{}, err
	}
	resp := xml.Response{Href: href}
	resolvers := resolversFor(t.res.ResourceType)

	if req.PropNames {
		var names []xml.Property
		for _, n := range propNames(resolvers) {
			names = append(names, xml.Property{Name: n.Local, Namespace: n.Space})
		}
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: names, Status: xml.StatusOK})
		return resp, nil
	}

	names := req.Props
	if req.AllProp {
		names = propNames(resolvers)
	}
	found, missing := resolveWith(env, resolvers, names)
	if len(found) > 0 {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: found, Status: xml.StatusOK})
	}
	// allprop reports only what exists
	if len(missing) > 0 && !req.AllProp {
		resp.PropStats = append(resp.PropStats, xml.PropStat{Props: missing, Status: xml.StatusNotFound})
	}
	return resp, nil
}
