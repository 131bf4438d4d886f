/*
Package server provides a CalDAV server for shared calendars of recurring,
attendee-bearing events.

# Basic Usage

The simplest way to use this package is with the provided in-memory storage
and user directory:

	store := memory.New()
	users := authmem.New(authmem.WithCalendarAccess(store, "/caldav/"))
	users.AddUser("alice", "secret", "alice@example.com")

	svc := server.NewService(store)
	h := server.NewCaldavHandler("/caldav/", "Calendars", svc, users, nil, slog.Default())
	http.Handle("/caldav/", auth.Middleware(users, "Calendars")(h))
	http.ListenAndServe(":8080", nil)

Every user owns exactly one calendar. Calendars are provisioned outside the
protocol (see cmd/caldorad for a YAML seed file); MKCOL and MKCALENDAR are
refused.

# URL Scheme

The server uses a fixed URL scheme below the prefix:
  - /Calendars/ - Calendar home, also reported as the user principal
  - /Calendars/<name>/ - Calendar collection, also the owner's schedule inbox and outbox
  - /Calendars/<name>.ics - The whole calendar as one read-only iCalendar file
  - /Calendars/<name>/<uuid>.ics - A master event with its overrides

A PUT to a new event path creates the event from the body's UID and answers
with its Location. Writes are replicated to the calendars of the event's
attendees; see the replication package.

# Error Handling

The storage package errors map to HTTP status codes:

	ErrValidation        400 Bad Request
	ErrNotFound          404 Not Found
	ErrPermissionDenied  403 Forbidden
	ErrConflict          409 Conflict
	ErrTransactionFailure and others  500 Internal Server Error

ETags are derived from the rendered iCalendar text, so If-Match and
If-None-Match compare against what a GET would return.

# Scheduling

A POST of a METHOD:REQUEST VFREEBUSY to the user's own collection answers
with a CalDAV schedule-response listing each attendee's busy time.

# Testing

The storage/memory package provides an in-memory implementation that's useful for testing:

	store := memory.New()
	store.CreateCalendar(ctx, storage.UserAccess("alice"), &storage.Calendar{
		Name:       "alice",
		Owner:      "alice",
		OwnerEmail: "alice@example.com",
	})
	h := server.NewCaldavHandler("/", "Test", server.NewService(store), nil, nil, nil)
	req := httptest.NewRequest("GET", "/Calendars/alice.ics", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{ID: "alice"}))

See cmd/caldorad for a complete daemon.
*/
package server
