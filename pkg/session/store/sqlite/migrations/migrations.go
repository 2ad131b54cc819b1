// Package migrations embeds the schema of the SQLite session store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
