package migration

import (
	"fmt"

	"github.com/synapseai/gateway-core/gwconfig"
)

// NewMigratorFromConfig builds a migrator from the repository's
// DatabaseConfig (driver + DSN), matching gwconfig's simpler shape
// rather than the teacher's host/port/user/password component set — the
// gateway takes a ready-made DSN per §6's configuration surface.
func NewMigratorFromConfig(cfg *gwconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

func NewMigratorFromDatabaseConfig(dbCfg gwconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbCfg.DSN,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
