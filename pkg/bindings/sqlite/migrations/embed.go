package migrations

import "embed"

// FS contains embedded SQLite migrations for binding storage.
//
//go:embed *.sql
var FS embed.FS
