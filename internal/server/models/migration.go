package models

import "time"

// MigrationRecord is a row of a tenant schema's schema_migrations table.
type MigrationRecord struct {
	Version   int64
	Name      string
	AppliedAt time.Time
}

// SchemaStatus is the introspected state of one tenant's schema.
type SchemaStatus struct {
	Slug         string `json:"slug"`
	SchemaName   string `json:"schema_name"`
	SchemaExists bool   `json:"schema_exists"`
	TablesExist  bool   `json:"tables_exist"`
	IsActive     bool   `json:"is_active"`
}

// SweepResult lists tenant slugs by outcome of a fleet-wide migration run.
type SweepResult struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
}
