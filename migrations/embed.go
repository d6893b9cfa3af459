// Package migrations embeds the PostgreSQL schema so cmd/migrate works from
// any directory.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file.
//
//go:embed *.sql
var FS embed.FS
