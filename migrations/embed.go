// Package migrations embeds the SQL migrations for the local identity store.
package migrations

import "embed"

// FS holds goose migration files.
//
//go:embed *.sql
var FS embed.FS
