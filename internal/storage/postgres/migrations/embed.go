package migrations

import "embed"

// FS contains the Postgres schema for the game store.
//
//go:embed *.sql
var FS embed.FS
