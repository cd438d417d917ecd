package migrations

import "embed"

// FS contains embedded SQLite migrations for cache document storage.
//
//go:embed *.sql
var FS embed.FS
