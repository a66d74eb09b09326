// Package migrations embeds the gateway schema migrations so the migrate
// binary has no runtime file dependencies.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
