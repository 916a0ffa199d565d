// Package migrations holds the schema of the app-owned wabridge.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
