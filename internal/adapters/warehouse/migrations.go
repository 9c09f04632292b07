package warehouse

import "embed"

// migrationsFS embeds the golang-migrate source tree applied by
// PostgresWarehouse on startup (spec.md §6.3).
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
