// Package freebusy computes busy time for a calendar and answers CalDAV
// free/busy scheduling requests.
package freebusy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cyp0633/caldora/server/freebusy"

// FBType is the FBTYPE of a FREEBUSY period.
type FBType string

const (
	Busy          FBType = "BUSY"
	Free          FBType = "FREE"
	BusyTentative FBType = "BUSY-TENTATIVE"
)

// Classify derives the free/busy type of an event or occurrence.
func Classify(transp storage.Transparency, status storage.Status) FBType {
	if transp == storage.TranspTransparent {
		return Free
	}
	switch status {
	case storage.StatusCancelled:
		return Free
	case storage.StatusTentative:
		return BusyTentative
	default:
		return Busy
	}
}

// Interval is one busy or free period. Intervals are never merged.
type Interval struct {
	Start  time.Time
	End    time.Time
	Type   FBType
	AllDay bool
}

// Window is the queried range. A bound given as a DATE covers that whole
// day: the start at midnight, the end up to the last instant of the day.
type Window struct {
	Start     time.Time
	End       time.Time
	StartDate bool
	EndDate   bool
}

func (w Window) bounds() (time.Time, time.Time) {
	end := w.End
	if w.EndDate {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return w.Start, end
}

// Calculator reads events through a storage.Reader and expands recurring
// masters with a shared engine. It holds no per-call state.
type Calculator struct {
	store  storage.Reader
	engine *recurrence.Engine
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLogger sets the logger for the calculator
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEngine sets the recurrence engine, for example one with caching
// disabled.
func WithEngine(engine *recurrence.Engine) Option {
	return func(c *Calculator) {
		if engine != nil {
			c.engine = engine
		}
	}
}

// WithClock replaces time.Now for DTSTAMP values.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store storage.Reader, opts ...Option) *Calculator {
	c := &Calculator{
		store:  store,
		engine: recurrence.NewEngine(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FreeBusy returns one interval per non-recurring event lying entirely in
// the window and per occurrence of every recurring master starting in it,
// ordered by start.
func (c *Calculator) FreeBusy(ctx context.Context, calendarID storage.CalendarID, w Window) ([]Interval, error) {
	ctx, span := c.tracer.Start(ctx, "freebusy.FreeBusy",
		trace.WithAttributes(attribute.Int64("calendar.id", int64(calendarID))))
	defer span.End()

	start, end := w.bounds()
	events, err := c.store.FindEvents(ctx, storage.EventQuery{CalendarID: calendarID, MastersOnly: true})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find events")
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	var out []Interval
	for _, ev := range events {
		if !ev.IsRecurring() {
			evEnd, ok := ev.End.Get()
			if !ok || ev.Start.Before(start) || evEnd.After(end) {
				continue
			}
			out = append(out, Interval{Start: ev.Start, End: evEnd, Type: Classify(ev.Transp, ev.Status), AllDay: ev.AllDay})
			continue
		}
		occs, err := c.occurrences(ev, start, end)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "expand")
			return nil, fmt.Errorf("failed to expand event %s: %w", ev.UUID, err)
		}
		c.logger.Debug("expanded recurring event",
			"uuid", ev.UUID,
			"occurrences", len(occs))
		out = append(out, occs...)
	}

	slices.SortStableFunc(out, func(a, b Interval) int { return a.Start.Compare(b.Start) })
	span.SetAttributes(attribute.Int("freebusy.intervals", len(out)))
	return out, nil
}

func (c *Calculator) occurrences(ev *storage.Event, start, end time.Time) ([]Interval, error) {
	overrides := make([]recurrence.Override, len(ev.Recurrences))
	for i, o := range ev.Recurrences {
		overrides[i] = recurrence.Override{
			Recurrence: o.Recurrence.OrEmpty(),
			Start:      o.Start,
			End:        o.End.OrEmpty(),
		}
	}
	seq, err := c.engine.Occurrences(ev.RuleSet(), ev.Duration(), overrides, start, end)
	if err != nil {
		return nil, err
	}

	var out []Interval
	for occ := range seq {
		iv := Interval{Start: occ.Start, End: occ.End, Type: Classify(ev.Transp, ev.Status), AllDay: ev.AllDay}
		if occ.Override >= 0 {
			o := ev.Recurrences[occ.Override]
			iv.Type = Classify(o.Transp, o.Status)
			iv.AllDay = o.AllDay
		}
		out = append(out, iv)
	}
	return out, nil
}
