// Package db opens the Postgres pool and owns the schema migrations.
package db

import "embed"

// MigrationFS holds the SQL migrations applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
