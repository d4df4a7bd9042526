package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migration directions.
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// MigrationResult describes the schema after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	// Changed is false when there was nothing to apply.
	Changed bool
}

// Migrate applies the migrations at sourceURL to the database at dsn.
//
// Precondition: direction is MigrateUp or MigrateDown; steps >= 0, where 0
// means every pending migration.
// Postcondition: Returns the resulting schema version. Having nothing to
// apply is not an error.
func Migrate(sourceURL, dsn, direction string, steps int) (MigrationResult, error) {
	if direction != MigrateUp && direction != MigrateDown {
		return MigrationResult{}, fmt.Errorf("invalid migration direction %q", direction)
	}
	if steps < 0 {
		return MigrationResult{}, fmt.Errorf("migration steps must be >= 0, got %d", steps)
	}

	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch {
	case steps > 0 && direction == MigrateDown:
		err = m.Steps(-steps)
	case steps > 0:
		err = m.Steps(steps)
	case direction == MigrateDown:
		err = m.Down()
	default:
		err = m.Up()
	}
	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return MigrationResult{}, fmt.Errorf("migrating %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("reading schema version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty, Changed: !noChange}, nil
}
