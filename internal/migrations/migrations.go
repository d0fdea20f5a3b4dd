package migrations

import "embed"

// Files holds the SQL schema migrations, applied in lexical order
// (001_init.sql, 002_phone_lookup.sql, ...).
//
//go:embed *.sql
var Files embed.FS
