package migrations

import "embed"

// FS holds the versioned migration sources so goose can match them to the
// Go migrations registered in init.
//
//go:embed 0*.go
var FS embed.FS
