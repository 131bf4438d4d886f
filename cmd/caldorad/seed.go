package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cyp0633/caldora/internal/config"
	authmem "github.com/cyp0633/caldora/server/auth/memory"
	"github.com/cyp0633/caldora/server/storage"
)

// applySeed registers the seeded users and creates the seeded calendars
// that the store does not hold yet. Existing calendars are left untouched.
func applySeed(ctx context.Context, store storage.Storage, users *authmem.Store, seed *config.Seed, logger *slog.Logger) error {
	for _, u := range seed.Users {
		if err := users.AddUser(u.Username, u.Password, u.Email); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}

	for _, c := range seed.Calendars {
		_, err := store.GetCalendarByName(ctx, c.Name)
		if err == nil {
			logger.Debug("seed calendar exists", "calendar", c.Name)
			continue
		}
		if !storage.IsNotFound(err) {
			return fmt.Errorf("seed calendar %s: %w", c.Name, err)
		}

		cal := &storage.Calendar{
			Name:        c.Name,
			Owner:       c.Owner,
			OwnerEmail:  seed.Email(c.Owner),
			Description: c.Description,
			ReadUsers:   c.Read,
			WriteUsers:  c.Write,
		}
		if err := store.CreateCalendar(ctx, storage.UserAccess(c.Owner), cal); err != nil {
			return fmt.Errorf("seed calendar %s: %w", c.Name, err)
		}
		logger.Info("seeded calendar",
			"calendar", c.Name,
			"owner", c.Owner,
			"calendar_id", cal.ID)
	}
	return nil
}
