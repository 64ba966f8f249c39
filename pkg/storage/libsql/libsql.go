//go:build libsql

// Package libsql provides session storage on a remote libSQL (Turso)
// database. It is compiled only with the libsql build tag: go-libsql
// bundles its own SQLite symbols, which clash with go-sqlite3 at link
// time.
package libsql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/papercomputeco/keepsake/pkg/storage/sqlstore"
)

// Enabled reports whether libSQL support is compiled in.
const Enabled = true

// Driver implements storage.Driver on libSQL.
type Driver struct {
	*sqlstore.Driver
}

// NewDriver connects to a libsql:// or https:// URL. The auth token is
// passed as the authToken query parameter.
func NewDriver(ctx context.Context, url string) (*Driver, error) {
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d, err := sqlstore.New(ctx, db, sqlstore.Question)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Driver{Driver: d}, nil
}
