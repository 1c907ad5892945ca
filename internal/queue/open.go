package queue

import (
	"fmt"

	"github.com/forgequeue/forgequeue/internal/queue/postgres"
	"github.com/forgequeue/forgequeue/internal/queue/sqlite"
)

// OpenOptions configures how to open the queue store.
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // for sqlite: path to the database file
	DSN    string // for postgres: connection string, or DATABASE_URL env if empty
}

// Open opens a Store based on opts.Driver. Driver "" defaults to sqlite.
func Open(opts OpenOptions) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return sqlite.Open(opts.Path)
	case "postgres":
		return postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", opts.Driver)
	}
}
