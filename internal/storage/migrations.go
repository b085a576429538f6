package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate runs all database migrations
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(createScrollbackArchiveTable); err != nil {
		return fmt.Errorf("scrollback archive migration failed: %w", err)
	}
	if _, err := db.Exec(createScrollbackArchiveIndexes); err != nil {
		return fmt.Errorf("scrollback archive index migration failed: %w", err)
	}

	return nil
}

// createScrollbackArchiveTable holds the queryable, string-keyed scrollback
// archive. It carries the network and target as plain text rather than
// foreign keys, so a write never requires a lookup or insert against another
// table first.
const createScrollbackArchiveTable = `
CREATE TABLE IF NOT EXISTS scrollback_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    network TEXT NOT NULL,
    target TEXT NOT NULL DEFAULT '',
    nick TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    kind TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    raw_line TEXT NOT NULL DEFAULT ''
);
`

const createScrollbackArchiveIndexes = `
CREATE INDEX IF NOT EXISTS idx_scrollback_network_target_time ON scrollback_archive(network, target, timestamp);
CREATE INDEX IF NOT EXISTS idx_scrollback_timestamp ON scrollback_archive(timestamp);
`
