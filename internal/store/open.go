package store

import (
	"context"
	"fmt"
)

// Store is a Gateway that owns its connections.
type Store interface {
	Gateway
	Close()
}

// Open connects to the configured backend and makes sure the schema exists.
// driver is "postgres" (dsn is a connection URL) or "sqlite" (dsn is a file
// path or ":memory:").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres", "":
		pg, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := NewSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
