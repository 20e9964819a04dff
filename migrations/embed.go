// Package migrations holds the SQL schema applied by tools/migrator at startup.
package migrations

import "embed"

// FS contains every NNN_name.sql migration in this directory
//
//go:embed *.sql
var FS embed.FS
