// Package migrations embeds the SQL schema into the binary so the service
// can migrate without the files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to database.Migrate.
//
//go:embed *.sql
var FS embed.FS
