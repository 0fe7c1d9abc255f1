// Package migrations embeds the audit store schema into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files applied to every audit database.
//
//go:embed *.sql
var FS embed.FS
