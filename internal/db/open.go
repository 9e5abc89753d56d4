package db

import (
	"context"
	"strings"

	"stonkbot/internal/game"
)

// Open picks a store from the configured location: a postgres URL, the
// literal "memory", or otherwise the SQLite file at sqlitePath.
func Open(ctx context.Context, databaseURL, sqlitePath string) (game.Store, string, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		s, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	case strings.EqualFold(databaseURL, "memory"):
		return NewMemoryStore(), "memory", nil
	default:
		s, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, "", err
		}
		return s, "sqlite", nil
	}
}
