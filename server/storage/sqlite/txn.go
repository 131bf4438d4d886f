package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

type txn struct {
	q     queryer
	store *Store
}

var _ storage.Tx = (*txn)(nil)

const calendarColumns = `id, name, owner, owner_email, description, read_users, write_users, created_at, updated_at`

const eventColumns = `id, calendar_id, uuid, sequence, summary, comment, all_day, start_at, end_at, timezone,
	classification, location_id, status, organizer, transp, parent_id, recurrence_at, foreign_props,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCalendar(row scanner) (*storage.Calendar, error) {
	var (
		cal                 storage.Calendar
		readJSON, writeJSON string
		created, updated    int64
	)
	if err := row.Scan(&cal.ID, &cal.Name, &cal.Owner, &cal.OwnerEmail, &cal.Description,
		&readJSON, &writeJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(readJSON), &cal.ReadUsers); err != nil {
		return nil, fmt.Errorf("decode read users: %w", err)
	}
	if err := json.Unmarshal([]byte(writeJSON), &cal.WriteUsers); err != nil {
		return nil, fmt.Errorf("decode write users: %w", err)
	}
	cal.CreatedAt = fromMillis(created)
	cal.UpdatedAt = fromMillis(updated)
	return &cal, nil
}

func (t *txn) GetCalendar(ctx context.Context, id storage.CalendarID) (*storage.Calendar, error) {
	cal, err := scanCalendar(t.q.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewNotFoundError("calendar", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return cal, nil
}

func (t *txn) GetCalendarByName(ctx context.Context, name string) (*storage.Calendar, error) {
	cal, err := scanCalendar(t.q.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewNotFoundError("calendar", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar by name: %w", err)
	}
	return cal, nil
}

func (t *txn) FindCalendars(ctx context.Context, q storage.CalendarQuery) ([]*storage.Calendar, error) {
	var (
		where []string
		args  []any
	)
	if q.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, q.Owner)
	}
	if len(q.OwnerEmails) > 0 {
		clause, emailArgs := lowerIn("owner_email", q.OwnerEmails)
		where = append(where, clause)
		args = append(args, emailArgs...)
	}
	query := `SELECT ` + calendarColumns + ` FROM calendars`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := t.q.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}
	defer rows.Close()
	var out []*storage.Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		out = append(out, cal)
	}
	return out, rows.Err()
}

func lowerIn(column string, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = strings.ToLower(v)
	}
	return "lower(" + column + ") IN (" + strings.Join(marks, ", ") + ")", args
}

func (t *txn) GetEvent(ctx context.Context, id storage.EventID) (*storage.Event, error) {
	return t.loadEvent(ctx, id, true)
}

func (t *txn) FindEvents(ctx context.Context, q storage.EventQuery) ([]*storage.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.CalendarID != 0 {
		where = append(where, "calendar_id = ?")
		args = append(args, q.CalendarID)
	}
	if q.UUID != "" {
		where = append(where, "uuid = ?")
		args = append(args, q.UUID)
	}
	if q.ExcludeID != 0 {
		where = append(where, "id <> ?")
		args = append(args, q.ExcludeID)
	}
	if q.MastersOnly {
		where = append(where, "parent_id IS NULL")
	}
	if rec, ok := q.Recurrence.Get(); ok {
		where = append(where, "recurrence_at = ?")
		args = append(args, toMillis(rec))
	}
	if len(q.OwnerEmails) > 0 {
		clause, emailArgs := lowerIn("owner_email", q.OwnerEmails)
		where = append(where, "calendar_id IN (SELECT id FROM calendars WHERE "+clause+")")
		args = append(args, emailArgs...)
	}
	query := `SELECT id FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	ids, err := t.ids(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	out := make([]*storage.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := t.loadEvent(ctx, storage.EventID(id), true)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ids collects a single integer column before any nested query runs.
func (t *txn) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *txn) loadEvent(ctx context.Context, id storage.EventID, withOverrides bool) (*storage.Event, error) {
	var (
		ev                                    storage.Event
		endAt, locationID, parentID, recAt    sql.NullInt64
		classification, status, transp, props string
		startAt, created, updated             int64
	)
	err := t.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id).Scan(
		&ev.ID, &ev.CalendarID, &ev.UUID, &ev.Sequence, &ev.Summary, &ev.Comment, &ev.AllDay,
		&startAt, &endAt, &ev.Timezone, &classification, &locationID, &status, &ev.Organizer,
		&transp, &parentID, &recAt, &props, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewNotFoundError("event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	ev.Start = fromMillis(startAt)
	if endAt.Valid {
		ev.End = mo.Some(fromMillis(endAt.Int64))
	}
	if parentID.Valid {
		ev.Parent = mo.Some(storage.EventID(parentID.Int64))
	}
	if recAt.Valid {
		ev.Recurrence = mo.Some(fromMillis(recAt.Int64))
	}
	ev.Classification = storage.Classification(classification)
	ev.Status = storage.Status(status)
	ev.Transp = storage.Transparency(transp)
	ev.CreatedAt = fromMillis(created)
	ev.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(props), &ev.Foreign); err != nil {
		return nil, fmt.Errorf("decode foreign props: %w", err)
	}
	if locationID.Valid {
		var loc storage.Location
		if err := t.q.QueryRowContext(ctx, `SELECT id, name FROM locations WHERE id = ?`, locationID.Int64).
			Scan(&loc.ID, &loc.Name); err != nil {
			return nil, fmt.Errorf("get location: %w", err)
		}
		ev.Location = mo.Some(loc)
	}
	if err := t.loadChildren(ctx, &ev); err != nil {
		return nil, err
	}
	if withOverrides && !ev.IsOverride() {
		ids, err := t.ids(ctx, `SELECT id FROM events WHERE parent_id = ? ORDER BY recurrence_at`, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("list overrides: %w", err)
		}
		for _, oid := range ids {
			o, err := t.loadEvent(ctx, storage.EventID(oid), false)
			if err != nil {
				return nil, err
			}
			ev.Recurrences = append(ev.Recurrences, o)
		}
	}
	return &ev, nil
}

func (t *txn) loadChildren(ctx context.Context, ev *storage.Event) error {
	rows, err := t.q.QueryContext(ctx, `SELECT c.id, c.name FROM event_categories ec
		JOIN categories c ON c.id = ec.category_id WHERE ec.event_id = ? ORDER BY ec.position`, ev.ID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	for rows.Next() {
		var c storage.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan category: %w", err)
		}
		ev.Categories = append(ev.Categories, c)
	}
	rows.Close()

	rows, err = t.q.QueryContext(ctx, `SELECT id, email, status, params FROM attendees WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return fmt.Errorf("list attendees: %w", err)
	}
	for rows.Next() {
		var (
			a              storage.Attendee
			status, params string
		)
		if err := rows.Scan(&a.ID, &a.Email, &status, &params); err != nil {
			rows.Close()
			return fmt.Errorf("scan attendee: %w", err)
		}
		a.Status = storage.PartStat(status)
		if err := json.Unmarshal([]byte(params), &a.Params); err != nil {
			rows.Close()
			return fmt.Errorf("decode attendee params: %w", err)
		}
		ev.Attendees = append(ev.Attendees, a)
	}
	rows.Close()

	rows, err = t.q.QueryContext(ctx, `SELECT id, kind, date_only, at FROM event_dates WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return fmt.Errorf("list dates: %w", err)
	}
	for rows.Next() {
		var (
			d    storage.DateEntry
			kind string
			at   int64
		)
		if err := rows.Scan(&d.ID, &kind, &d.DateOnly, &at); err != nil {
			rows.Close()
			return fmt.Errorf("scan date: %w", err)
		}
		d.Time = fromMillis(at)
		if kind == "rdate" {
			ev.RDates = append(ev.RDates, d)
		} else {
			ev.ExDates = append(ev.ExDates, d)
		}
	}
	rows.Close()

	rows, err = t.q.QueryContext(ctx, `SELECT id, kind, rule FROM event_rules WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	for rows.Next() {
		var (
			r          storage.RuleEntry
			kind, text string
		)
		if err := rows.Scan(&r.ID, &kind, &text); err != nil {
			rows.Close()
			return fmt.Errorf("scan rule: %w", err)
		}
		if r.Rule, err = recurrence.ParseRule(text); err != nil {
			rows.Close()
			return fmt.Errorf("parse stored rule %q: %w", text, err)
		}
		if kind == "rrule" {
			ev.RRules = append(ev.RRules, r)
		} else {
			ev.ExRules = append(ev.ExRules, r)
		}
	}
	rows.Close()

	rows, err = t.q.QueryContext(ctx, `SELECT id, component FROM alarms WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a    storage.Alarm
			data string
		)
		if err := rows.Scan(&a.ID, &data); err != nil {
			return fmt.Errorf("scan alarm: %w", err)
		}
		a.Component = &ical.Component{}
		if err := json.Unmarshal([]byte(data), a.Component); err != nil {
			return fmt.Errorf("decode alarm: %w", err)
		}
		ev.Alarms = append(ev.Alarms, a)
	}
	return rows.Err()
}

func (t *txn) LookupCategory(ctx context.Context, name string) (storage.Category, error) {
	var c storage.Category
	err := t.q.QueryRowContext(ctx, `SELECT id, name FROM categories WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return c, storage.NewNotFoundError("category", name)
	}
	if err != nil {
		return c, fmt.Errorf("lookup category: %w", err)
	}
	return c, nil
}

func (t *txn) LookupLocation(ctx context.Context, name string) (storage.Location, error) {
	var l storage.Location
	err := t.q.QueryRowContext(ctx, `SELECT id, name FROM locations WHERE name = ?`, name).Scan(&l.ID, &l.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return l, storage.NewNotFoundError("location", name)
	}
	if err != nil {
		return l, fmt.Errorf("lookup location: %w", err)
	}
	return l, nil
}

func (t *txn) CreateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	if !acc.IsReplication() && acc.User() != cal.Owner {
		return storage.NewPermissionError(acc.User(), "cannot create a calendar for "+cal.Owner)
	}
	if err := t.checkCalendar(ctx, cal, 0); err != nil {
		return err
	}
	readJSON, writeJSON, err := userLists(cal)
	if err != nil {
		return err
	}
	now := t.store.now()
	res, err := t.q.ExecContext(ctx, `INSERT INTO calendars (name, owner, owner_email, description,
		read_users, write_users, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.Name, cal.Owner, cal.OwnerEmail, cal.Description, readJSON, writeJSON, toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.NewValidationError("name", "calendar "+cal.Name+" already exists")
		}
		return fmt.Errorf("create calendar: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create calendar: %w", err)
	}
	cal.ID = storage.CalendarID(id)
	cal.CreatedAt, cal.UpdatedAt = fromMillis(toMillis(now)), fromMillis(toMillis(now))
	t.store.logger.Debug("calendar created", "id", cal.ID, "name", cal.Name, "owner", cal.Owner)
	return nil
}

func (t *txn) UpdateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	existing, err := t.GetCalendar(ctx, cal.ID)
	if err != nil {
		return err
	}
	if err := acc.CheckWrite(existing); err != nil {
		return err
	}
	if err := t.checkCalendar(ctx, cal, cal.ID); err != nil {
		return err
	}
	readJSON, writeJSON, err := userLists(cal)
	if err != nil {
		return err
	}
	now := t.store.now()
	if _, err := t.q.ExecContext(ctx, `UPDATE calendars SET name = ?, owner = ?, owner_email = ?,
		description = ?, read_users = ?, write_users = ?, updated_at = ? WHERE id = ?`,
		cal.Name, cal.Owner, cal.OwnerEmail, cal.Description, readJSON, writeJSON, toMillis(now), cal.ID); err != nil {
		return fmt.Errorf("update calendar: %w", err)
	}
	cal.CreatedAt = existing.CreatedAt
	cal.UpdatedAt = fromMillis(toMillis(now))
	t.store.logger.Debug("calendar updated", "id", cal.ID)
	return nil
}

func userLists(cal *storage.Calendar) (string, string, error) {
	readJSON, err := json.Marshal(orEmpty(cal.ReadUsers))
	if err != nil {
		return "", "", fmt.Errorf("encode read users: %w", err)
	}
	writeJSON, err := json.Marshal(orEmpty(cal.WriteUsers))
	if err != nil {
		return "", "", fmt.Errorf("encode write users: %w", err)
	}
	return string(readJSON), string(writeJSON), nil
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func (t *txn) checkCalendar(ctx context.Context, cal *storage.Calendar, self storage.CalendarID) error {
	if err := storage.ValidateCalendar(cal); err != nil {
		return err
	}
	var name, owner string
	err := t.q.QueryRowContext(ctx, `SELECT name, owner FROM calendars WHERE (name = ? OR owner = ?) AND id <> ? LIMIT 1`,
		cal.Name, cal.Owner, self).Scan(&name, &owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check calendar uniqueness: %w", err)
	case name == cal.Name:
		return storage.NewValidationError("name", "calendar "+cal.Name+" already exists")
	default:
		return storage.NewValidationError("owner", cal.Owner+" already owns a calendar")
	}
}

func (t *txn) DeleteCalendar(ctx context.Context, acc storage.Access, id storage.CalendarID) error {
	cal, err := t.GetCalendar(ctx, id)
	if err != nil {
		return err
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	ids, err := t.ids(ctx, `SELECT id FROM events WHERE calendar_id = ?`, id)
	if err != nil {
		return fmt.Errorf("list calendar events: %w", err)
	}
	for _, eid := range ids {
		if err := t.deleteRows(ctx, storage.EventID(eid)); err != nil {
			return err
		}
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	t.store.logger.Debug("calendar deleted", "id", id)
	return nil
}

func (t *txn) CreateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	cal, err := t.GetCalendar(ctx, ev.CalendarID)
	if err != nil {
		return err
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	if err := t.checkEvent(ctx, ev, 0); err != nil {
		return err
	}
	if err := t.resolveTags(ctx, ev); err != nil {
		return err
	}
	props, err := json.Marshal(ev.Foreign)
	if err != nil {
		return fmt.Errorf("encode foreign props: %w", err)
	}
	now := t.store.now()
	res, err := t.q.ExecContext(ctx, `INSERT INTO events (calendar_id, uuid, sequence, summary, comment,
		all_day, start_at, end_at, timezone, classification, location_id, status, organizer, transp,
		parent_id, recurrence_at, recurrence_key, foreign_props, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CalendarID, ev.UUID, ev.Summary, ev.Comment, ev.AllDay, toMillis(ev.Start), nullTime(ev.End),
		ev.Timezone, string(ev.Classification), locationID(ev), string(ev.Status), ev.Organizer,
		string(ev.Transp), nullID(ev.Parent), nullTime(ev.Recurrence), recurrenceKey(ev), string(props),
		toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.NewValidationError("uuid", "event "+ev.UUID+" already exists in this calendar")
		}
		return fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	ev.ID = storage.EventID(id)
	ev.Sequence = 0
	ev.CreatedAt, ev.UpdatedAt = fromMillis(toMillis(now)), fromMillis(toMillis(now))
	if err := t.insertChildren(ctx, ev); err != nil {
		return err
	}
	t.store.logger.Debug("event created", "id", ev.ID, "uuid", ev.UUID, "calendar", ev.CalendarID)
	return nil
}

func (t *txn) UpdateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	existing, err := t.loadEvent(ctx, ev.ID, false)
	if err != nil {
		return err
	}
	cal, err := t.GetCalendar(ctx, existing.CalendarID)
	if err != nil {
		return err
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	if ev.CalendarID != existing.CalendarID {
		return storage.NewValidationError("calendar", "an event cannot move between calendars")
	}
	if ev.Parent != existing.Parent {
		return storage.NewValidationError("parent", "an event cannot change its master")
	}
	if err := t.checkEvent(ctx, ev, ev.ID); err != nil {
		return err
	}
	if err := t.resolveTags(ctx, ev); err != nil {
		return err
	}
	props, err := json.Marshal(ev.Foreign)
	if err != nil {
		return fmt.Errorf("encode foreign props: %w", err)
	}
	now := t.store.now()
	if _, err := t.q.ExecContext(ctx, `UPDATE events SET uuid = ?, sequence = sequence + 1, summary = ?,
		comment = ?, all_day = ?, start_at = ?, end_at = ?, timezone = ?, classification = ?, location_id = ?,
		status = ?, organizer = ?, transp = ?, recurrence_at = ?, recurrence_key = ?, foreign_props = ?,
		updated_at = ? WHERE id = ?`,
		ev.UUID, ev.Summary, ev.Comment, ev.AllDay, toMillis(ev.Start), nullTime(ev.End), ev.Timezone,
		string(ev.Classification), locationID(ev), string(ev.Status), ev.Organizer, string(ev.Transp),
		nullTime(ev.Recurrence), recurrenceKey(ev), string(props), toMillis(now), ev.ID); err != nil {
		if isUniqueViolation(err) {
			return storage.NewValidationError("uuid", "event "+ev.UUID+" already exists in this calendar")
		}
		return fmt.Errorf("update event: %w", err)
	}
	if err := t.deleteChildren(ctx, ev.ID); err != nil {
		return err
	}
	if err := t.insertChildren(ctx, ev); err != nil {
		return err
	}
	ev.Sequence = existing.Sequence + 1
	ev.CreatedAt = existing.CreatedAt
	ev.UpdatedAt = fromMillis(toMillis(now))
	t.store.logger.Debug("event updated", "id", ev.ID, "sequence", ev.Sequence)
	return nil
}

func (t *txn) DeleteEvent(ctx context.Context, acc storage.Access, id storage.EventID) error {
	ev, err := t.loadEvent(ctx, id, false)
	if err != nil {
		return err
	}
	cal, err := t.GetCalendar(ctx, ev.CalendarID)
	if err != nil {
		return err
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	overrides, err := t.ids(ctx, `SELECT id FROM events WHERE parent_id = ?`, id)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}
	for _, oid := range overrides {
		if err := t.deleteRows(ctx, storage.EventID(oid)); err != nil {
			return err
		}
	}
	if err := t.deleteRows(ctx, id); err != nil {
		return err
	}
	t.store.logger.Debug("event deleted", "id", id)
	return nil
}

func (t *txn) deleteRows(ctx context.Context, id storage.EventID) error {
	if err := t.deleteChildren(ctx, id); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (t *txn) deleteChildren(ctx context.Context, id storage.EventID) error {
	for _, table := range []string{"event_categories", "attendees", "event_dates", "event_rules", "alarms"} {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// checkEvent validates ev and enforces (uuid, calendar, recurrence) uniqueness.
func (t *txn) checkEvent(ctx context.Context, ev *storage.Event, self storage.EventID) error {
	var master *storage.Event
	if p, ok := ev.Parent.Get(); ok {
		m, err := t.loadEvent(ctx, p, false)
		if err != nil && !storage.IsNotFound(err) {
			return err
		}
		master = m
	}
	if err := storage.ValidateEvent(ev, master); err != nil {
		return err
	}
	var n int
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events
		WHERE calendar_id = ? AND uuid = ? AND recurrence_key = ? AND id <> ?`,
		ev.CalendarID, ev.UUID, recurrenceKey(ev), self).Scan(&n); err != nil {
		return fmt.Errorf("check event uniqueness: %w", err)
	}
	if n > 0 {
		return storage.NewValidationError("uuid", "event "+ev.UUID+" already exists in this calendar")
	}
	return nil
}

// resolveTags replaces tag references with stored rows, creating missing ones.
func (t *txn) resolveTags(ctx context.Context, ev *storage.Event) error {
	for i, c := range ev.Categories {
		id, err := t.upsertTag(ctx, "categories", strings.TrimSpace(c.Name))
		if err != nil {
			return err
		}
		ev.Categories[i] = storage.Category{ID: id, Name: strings.TrimSpace(c.Name)}
	}
	if loc, ok := ev.Location.Get(); ok {
		name := strings.TrimSpace(loc.Name)
		id, err := t.upsertTag(ctx, "locations", name)
		if err != nil {
			return err
		}
		ev.Location = mo.Some(storage.Location{ID: id, Name: name})
	}
	return nil
}

func (t *txn) upsertTag(ctx context.Context, table, name string) (int64, error) {
	if _, err := t.q.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (name) VALUES (?)`, name); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	var id int64
	if err := t.q.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("select from %s: %w", table, err)
	}
	return id, nil
}

// insertChildren writes child rows, keeping existing IDs and assigning new ones.
func (t *txn) insertChildren(ctx context.Context, ev *storage.Event) error {
	seen := make(map[int64]bool, len(ev.Categories))
	for i, c := range ev.Categories {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if _, err := t.q.ExecContext(ctx, `INSERT INTO event_categories (event_id, category_id, position) VALUES (?, ?, ?)`,
			ev.ID, c.ID, i); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}
	for i := range ev.Attendees {
		a := &ev.Attendees[i]
		params, err := json.Marshal(a.Params)
		if err != nil {
			return fmt.Errorf("encode attendee params: %w", err)
		}
		if a.ID, err = t.insert(ctx, `INSERT INTO attendees (id, event_id, email, status, params) VALUES (NULLIF(?, 0), ?, ?, ?, ?)`,
			a.ID, ev.ID, a.Email, string(a.Status), string(params)); err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
	}
	if err := t.insertDates(ctx, ev.ID, "rdate", ev.RDates); err != nil {
		return err
	}
	if err := t.insertDates(ctx, ev.ID, "exdate", ev.ExDates); err != nil {
		return err
	}
	if err := t.insertRules(ctx, ev.ID, "rrule", ev.RRules); err != nil {
		return err
	}
	if err := t.insertRules(ctx, ev.ID, "exrule", ev.ExRules); err != nil {
		return err
	}
	for i := range ev.Alarms {
		a := &ev.Alarms[i]
		data, err := json.Marshal(a.Component)
		if err != nil {
			return fmt.Errorf("encode alarm: %w", err)
		}
		if a.ID, err = t.insert(ctx, `INSERT INTO alarms (id, event_id, component) VALUES (NULLIF(?, 0), ?, ?)`,
			a.ID, ev.ID, string(data)); err != nil {
			return fmt.Errorf("insert alarm: %w", err)
		}
	}
	return nil
}

func (t *txn) insertDates(ctx context.Context, id storage.EventID, kind string, dates []storage.DateEntry) error {
	for i := range dates {
		d := &dates[i]
		var err error
		if d.ID, err = t.insert(ctx, `INSERT INTO event_dates (id, event_id, kind, date_only, at) VALUES (NULLIF(?, 0), ?, ?, ?, ?)`,
			d.ID, id, kind, d.DateOnly, toMillis(d.Time)); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
	}
	return nil
}

func (t *txn) insertRules(ctx context.Context, id storage.EventID, kind string, rules []storage.RuleEntry) error {
	for i := range rules {
		r := &rules[i]
		var err error
		if r.ID, err = t.insert(ctx, `INSERT INTO event_rules (id, event_id, kind, rule) VALUES (NULLIF(?, 0), ?, ?, ?)`,
			r.ID, id, kind, r.Rule.String()); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
	}
	return nil
}

func (t *txn) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullTime(v mo.Option[time.Time]) sql.NullInt64 {
	if tm, ok := v.Get(); ok {
		return sql.NullInt64{Int64: toMillis(tm), Valid: true}
	}
	return sql.NullInt64{}
}

func nullID(v mo.Option[storage.EventID]) sql.NullInt64 {
	if id, ok := v.Get(); ok {
		return sql.NullInt64{Int64: int64(id), Valid: true}
	}
	return sql.NullInt64{}
}

func locationID(ev *storage.Event) sql.NullInt64 {
	if loc, ok := ev.Location.Get(); ok {
		return sql.NullInt64{Int64: loc.ID, Valid: true}
	}
	return sql.NullInt64{}
}

func recurrenceKey(ev *storage.Event) string {
	if rec, ok := ev.Recurrence.Get(); ok {
		return strconv.FormatInt(toMillis(rec), 10)
	}
	return ""
}
