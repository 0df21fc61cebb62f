package database

import "errors"

var (
	// ErrInvalidConfig is returned by Open when the configuration is unusable.
	ErrInvalidConfig = errors.New("database: invalid configuration")

	// ErrMigrationNotFound is returned by MigrateDown when an applied
	// version has no matching file.
	ErrMigrationNotFound = errors.New("database: migration not found")
)
