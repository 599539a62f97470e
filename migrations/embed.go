// Package migrations embeds the SQL schema files so the migrate runner
// works from a single binary.
package migrations

import "embed"

//go:embed *.sql seeds/*.sql
var FS embed.FS
