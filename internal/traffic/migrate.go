package traffic

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gopkg.in/yaml.v3"

	"github.com/overlaygate/gatewayd/internal/logging"
)

//go:embed migrations/*.sql migrations/manifest.yaml
var migrationsFS embed.FS

// manifestEntry describes one migration for logging purposes; the
// migration order itself is still driven by golang-migrate's own
// filename parsing, this is purely descriptive.
type manifestEntry struct {
	Version     int    `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func logManifest(log *logging.Logger) {
	data, err := migrationsFS.ReadFile("migrations/manifest.yaml")
	if err != nil {
		return
	}
	var entries []manifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		log.Warn("parse migration manifest", "error", err)
		return
	}
	for _, e := range entries {
		log.Debug("migration", "version", e.Version, "name", e.Name, "description", e.Description)
	}
}

// runMigrations applies every embedded migration to db, in order,
// before the sampler or query API touch it.
func runMigrations(db *sql.DB, log *logging.Logger) error {
	logManifest(log)

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	target, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("open migration target: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", target)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
