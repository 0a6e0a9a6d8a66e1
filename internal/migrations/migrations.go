// Package migrations holds the journal schema, embedded into the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
