package server

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

var errPropNotFound = errors.New("property not found")

// Resolver resolves a single property for the given environment.
type Resolver func(env *propEnv) mo.Result[xml.Property]

// propEnv provides lazy accessors for the resources a property may need.
// Calendar and event are preloaded by the PROPFIND walk.
type propEnv struct {
	h   *CaldavHandler
	r   *http.Request
	req *RequestContext
	res Resource

	calendar *storage.Calendar
	event    *storage.Event

	text mo.Option[string]
	own  *storage.Calendar
}

func newPropEnv(h *CaldavHandler, r *http.Request, req *RequestContext, t target) *propEnv {
	return &propEnv{h: h, r: r, req: req, res: t.res, calendar: t.calendar, event: t.event}
}

func (e *propEnv) ResourceHref() (string, error) {
	return e.h.URLConverter.EncodePath(e.res)
}

func (e *propEnv) HomeSetHref() (string, error) {
	return e.h.URLConverter.EncodePath(Resource{ResourceType: storage.ResourceHomeSet})
}

// OwnCalendarHref is the collection of the authenticated user, which doubles
// as their schedule inbox and outbox.
func (e *propEnv) OwnCalendarHref() (string, error) {
	if e.own == nil {
		cal, err := e.h.Service.OwnCalendar(e.r.Context(), e.req.AuthUser)
		if err != nil {
			return "", err
		}
		e.own = cal
	}
	return e.h.URLConverter.EncodePath(Resource{Calendar: e.own.Name, ResourceType: storage.ResourceCollection})
}

// Text renders the resource once per environment.
func (e *propEnv) Text() (string, error) {
	if text, ok := e.text.Get(); ok {
		return text, nil
	}
	var (
		text string
		err  error
	)
	switch e.res.ResourceType {
	case storage.ResourceCalendarFile:
		text, err = e.h.Service.RenderCalendarAsText(e.r.Context(), e.calendar.ID)
	case storage.ResourceObject:
		text, err = e.h.Service.RenderEventAsText(e.r.Context(), e.event.ID)
	default:
		return "", errPropNotFound
	}
	if err != nil {
		return "", err
	}
	e.text = mo.Some(text)
	return text, nil
}

func davProp(local, text string, children ...xml.Property) xml.Property {
	return xml.Property{Name: local, Namespace: xml.DAV, TextContent: text, Children: children}
}

func caldavProp(local, text string, children ...xml.Property) xml.Property {
	return xml.Property{Name: local, Namespace: xml.CalDAV, TextContent: text, Children: children}
}

func hrefProp(name xml.Name, hrefs ...string) xml.Property {
	p := xml.Property{Name: name.Local, Namespace: name.Space}
	for _, h := range hrefs {
		p.Children = append(p.Children, davProp(xml.TagHref, h))
	}
	return p
}

var (
	nameResourceType      = xml.Name{Space: xml.DAV, Local: xml.TagResourcetype}
	nameGetETag           = xml.Name{Space: xml.DAV, Local: "getetag"}
	nameGetContentType    = xml.Name{Space: xml.DAV, Local: "getcontenttype"}
	nameDisplayName       = xml.Name{Space: xml.DAV, Local: "displayname"}
	nameCurrentUser       = xml.Name{Space: xml.DAV, Local: "current-user-principal"}
	namePrincipalURL      = xml.Name{Space: xml.DAV, Local: "principal-URL"}
	nameOwner             = xml.Name{Space: xml.DAV, Local: "owner"}
	nameDescription       = xml.Name{Space: xml.CalDAV, Local: "calendar-description"}
	nameHomeSet           = xml.Name{Space: xml.CalDAV, Local: "calendar-home-set"}
	nameUserAddressSet    = xml.Name{Space: xml.CalDAV, Local: "calendar-user-address-set"}
	nameScheduleInboxURL  = xml.Name{Space: xml.CalDAV, Local: "schedule-inbox-URL"}
	nameScheduleOutboxURL = xml.Name{Space: xml.CalDAV, Local: "schedule-outbox-URL"}
)

// hrefResolver resolves a property holding a single href.
func hrefResolver(name xml.Name, href func(env *propEnv) (string, error)) Resolver {
	return func(env *propEnv) mo.Result[xml.Property] {
		v, err := href(env)
		if err != nil {
			env.h.Logger.Error("failed to encode href",
				"property", name.Local,
				"resource", env.res,
				"error", err)
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(hrefProp(name, v))
	}
}

// resolveWith resolves names with the resolver table, splitting the results
// into found and missing properties in request order.
func resolveWith(env *propEnv, resolvers map[xml.Name]Resolver, names []xml.Name) (found, missing []xml.Property) {
	for _, name := range names {
		r, ok := resolvers[name]
		if !ok {
			missing = append(missing, xml.Property{Name: name.Local, Namespace: name.Space})
			continue
		}
		prop, err := r(env).Get()
		if err != nil {
			missing = append(missing, xml.Property{Name: name.Local, Namespace: name.Space})
			continue
		}
		found = append(found, prop)
	}
	return found, missing
}

// Common resolvers shared across resource types.
var commonResolvers = map[xml.Name]Resolver{
	nameCurrentUser:  hrefResolver(nameCurrentUser, (*propEnv).HomeSetHref),
	namePrincipalURL: hrefResolver(namePrincipalURL, (*propEnv).HomeSetHref),
	nameHomeSet:      hrefResolver(nameHomeSet, (*propEnv).HomeSetHref),
	nameUserAddressSet: func(env *propEnv) mo.Result[xml.Property] {
		if env.req.Email == "" {
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(hrefProp(nameUserAddressSet, "mailto:"+env.req.Email))
	},
	nameScheduleInboxURL:  hrefResolver(nameScheduleInboxURL, (*propEnv).OwnCalendarHref),
	nameScheduleOutboxURL: hrefResolver(nameScheduleOutboxURL, (*propEnv).OwnCalendarHref),
}

// inherit layers tables over the common resolvers.
func inherit(tables ...map[xml.Name]Resolver) map[xml.Name]Resolver {
	m := maps.Clone(commonResolvers)
	for _, t := range tables {
		maps.Copy(m, t)
	}
	return m
}

// Home set specific resolvers. The home set also stands in for the
// principal resource.
var homeSetResolvers = inherit(map[xml.Name]Resolver{
	nameDisplayName: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp("displayname", "Calendars"))
	},
	nameResourceType: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp(xml.TagResourcetype, "",
			davProp(xml.TagCollection, ""),
			davProp("principal", "")))
	},
})

// Collection specific resolvers.
var collectionResolvers = inherit(map[xml.Name]Resolver{
	nameDisplayName: func(env *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp("displayname", env.calendar.Name))
	},
	nameResourceType: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp(xml.TagResourcetype, "",
			davProp(xml.TagCollection, ""),
			caldavProp(xml.TagCalendar, "")))
	},
	nameDescription: func(env *propEnv) mo.Result[xml.Property] {
		if env.calendar.Description == "" {
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(caldavProp("calendar-description", env.calendar.Description))
	},
	nameOwner: func(env *propEnv) mo.Result[xml.Property] {
		if env.calendar.OwnerEmail == "" {
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(hrefProp(nameOwner, "mailto:"+env.calendar.OwnerEmail))
	},
})

// Resolvers for text resources: the whole-calendar file and single events.
var textResolvers = map[xml.Name]Resolver{
	nameResourceType: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp(xml.TagResourcetype, ""))
	},
	nameGetContentType: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp("getcontenttype", mimeTypeCalendar))
	},
	nameGetETag: func(env *propEnv) mo.Result[xml.Property] {
		text, err := env.Text()
		if err != nil {
			env.h.Logger.Error("failed to render resource for etag",
				"resource", env.res,
				"error", err)
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(davProp("getetag", ETag(text)))
	},
}

var calendarFileResolvers = inherit(textResolvers, map[xml.Name]Resolver{
	nameDisplayName: func(env *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp("displayname", env.calendar.Name+storage.CalendarFileSuffix))
	},
})

var objectResolvers = inherit(textResolvers, map[xml.Name]Resolver{
	nameDisplayName: func(env *propEnv) mo.Result[xml.Property] {
		if env.event.Summary == "" {
			return mo.Err[xml.Property](errPropNotFound)
		}
		return mo.Ok(davProp("displayname", env.event.Summary))
	},
})

// Service root specific resolvers.
var serviceRootResolvers = inherit(map[xml.Name]Resolver{
	nameDisplayName: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp("displayname", "CalDAV Service Root"))
	},
	nameResourceType: func(_ *propEnv) mo.Result[xml.Property] {
		return mo.Ok(davProp(xml.TagResourcetype, "", davProp(xml.TagCollection, "")))
	},
})

func resolversFor(rt storage.ResourceType) map[xml.Name]Resolver {
	switch rt {
	case storage.ResourceHomeSet:
		return homeSetResolvers
	case storage.ResourceCollection:
		return collectionResolvers
	case storage.ResourceCalendarFile:
		return calendarFileResolvers
	case storage.ResourceObject:
		return objectResolvers
	case storage.ResourceServiceRoot:
		return serviceRootResolvers
	default:
		return map[xml.Name]Resolver{}
	}
}

// propNames lists a table's property names in a stable order.
func propNames(resolvers map[xml.Name]Resolver) []xml.Name {
	names := slices.Collect(maps.Keys(resolvers))
	slices.SortFunc(names, func(a, b xml.Name) int {
		if c := strings.Compare(a.Space, b.Space); c != 0 {
			return c
		}
		return strings.Compare(a.Local, b.Local)
	})
	return names
}
