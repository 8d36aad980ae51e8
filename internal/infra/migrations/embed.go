package migrations

import "embed"

// FS holds the ordered golang-migrate files for the Postgres schema.
//
//go:embed *.sql
var FS embed.FS
