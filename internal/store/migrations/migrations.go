// Package migrations embeds the SQL schema migrations for smsdesk.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
