package server

import (
	"fmt"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
)

// URLConverter helps you define URL path convention. Leave this blank when creating handler defaults to DefaultURLConverter.
//
// A resource should be able to find its calendar from its path, so every
// path below the home set carries the calendar name.
type URLConverter interface {
	// ParsePath parses a given path and returns the corresponding Resource.
	ParsePath(path string) (Resource, error)
	// EncodePath encodes a Resource back to its URL path representation.
	EncodePath(resource Resource) (string, error)
}

type Resource struct {
	Calendar     string // calendar name
	Event        string // event uuid
	URI          string // may save encode/parsing overhead
	ResourceType storage.ResourceType
}

// homeSegment names the calendar home set below the prefix.
const homeSegment = "Calendars"

// DefaultURLConverter implements the URLConverter interface with the
// following structure:
//
//   - Service Root: /
//   - Home Set: /Calendars/
//   - Collection: /Calendars/<name>/
//   - Calendar file: /Calendars/<name>.ics
//   - Object: /Calendars/<name>/<uuid>.ics
//
// The Prefix field can be used to add a common prefix to all paths (e.g., "/caldav/")
type DefaultURLConverter struct {
	Prefix string
}

// ParsePath parses a CalDAV path into its components.
// It handles paths with or without the configured prefix.
func (c *DefaultURLConverter) ParsePath(path string) (Resource, error) {
	resource := Resource{ResourceType: storage.ResourceUnknown, URI: path}

	path = strings.TrimPrefix(path, strings.TrimSuffix(c.Prefix, "/"))
	var segments []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			segments = append(segments, p)
		}
	}

	if len(segments) > 0 && segments[0] != homeSegment {
		return resource, fmt.Errorf("invalid path: expected '/%s', got '/%s'", homeSegment, segments[0])
	}

	switch len(segments) {
	case 0:
		resource.ResourceType = storage.ResourceServiceRoot

	case 1: // /Calendars
		resource.ResourceType = storage.ResourceHomeSet

	case 2: // /Calendars/<name> or /Calendars/<name>.ics
		if name, ok := strings.CutSuffix(segments[1], storage.CalendarFileSuffix); ok {
			if name == "" {
				return resource, fmt.Errorf("invalid path: empty calendar name")
			}
			resource.Calendar = name
			resource.ResourceType = storage.ResourceCalendarFile
		} else {
			resource.Calendar = segments[1]
			resource.ResourceType = storage.ResourceCollection
		}

	case 3: // /Calendars/<name>/<uuid>.ics
		uuid, ok := strings.CutSuffix(segments[2], storage.CalendarFileSuffix)
		if !ok || uuid == "" {
			return resource, fmt.Errorf("invalid path: expected '<uuid>%s', got '%s'", storage.CalendarFileSuffix, segments[2])
		}
		resource.Calendar = segments[1]
		resource.Event = uuid
		resource.ResourceType = storage.ResourceObject

	default:
		return resource, fmt.Errorf("invalid path: too many segments (%d)", len(segments))
	}

	return resource, nil
}

// EncodePath encodes a Resource into a CalDAV path.
// It validates that the resource has all required fields for its type
// and adds the configured prefix to the path.
func (c *DefaultURLConverter) EncodePath(resource Resource) (string, error) {
	var path string

	switch resource.ResourceType {
	case storage.ResourceServiceRoot:
		path = ""

	case storage.ResourceHomeSet:
		path = homeSegment + "/"

	case storage.ResourceCollection:
		if resource.Calendar == "" {
			return "", fmt.Errorf("invalid resource: collection must have a calendar name")
		}
		path = homeSegment + "/" + resource.Calendar + "/"

	case storage.ResourceCalendarFile:
		if resource.Calendar == "" {
			return "", fmt.Errorf("invalid resource: calendar file must have a calendar name")
		}
		path = homeSegment + "/" + resource.Calendar + storage.CalendarFileSuffix

	case storage.ResourceObject:
		if resource.Calendar == "" || resource.Event == "" {
			return "", fmt.Errorf("invalid resource: object must have calendar name and event uuid")
		}
		path = homeSegment + "/" + resource.Calendar + "/" + resource.Event + storage.CalendarFileSuffix

	default:
		return "", fmt.Errorf("invalid resource type: %s", resource.ResourceType.String())
	}

	prefix := c.Prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + path, nil
}
