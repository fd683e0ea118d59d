package db

import "embed"

// MigrationFS embeds the SQL migrations for the users and otp_records tables.
// Used by internal/db/migrate and cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
