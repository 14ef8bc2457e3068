// Embedded-file based schema migrations.
//
// Migration SQL files live under "migrations/<driver>" and are named
// NNNN_name.up.sql or NNNN_name.down.sql. Version is a four-digit integer.
// Files are embedded, so adding or removing migrations requires rebuilding
// the binary.

package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed migrations/**/*.sql
var migrationsFS embed.FS

var reMigrationFilename = regexp.MustCompile(`^(?P<Version>\d{4})\_(?P<Name>[^.]+)\.(?P<Direction>(up|down))\.sql$`)

var (
	ErrMigrateCurrentVersionSameAsTarget = errors.New("current version is the same as target version")
)

// SchemaMigration represents a single database migration
type SchemaMigration struct {
	Version int
	Name    string
	Up      bool
	SQL     string
}

// MigrationRunner handles database migrations
type MigrationRunner struct {
	db         *sql.DB
	driver     string
	migrations []SchemaMigration
	logger     *slog.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *sql.DB, driver string) *MigrationRunner {
	logger := slog.With("component", "migrations", "driver", driver)

	return &MigrationRunner{
		db:         db,
		driver:     driver,
		migrations: []SchemaMigration{},
		logger:     logger,
	}
}

func (p *SQLProvider) runMigrations(driver string) error {
	runner := NewMigrationRunner(p.db.DB, driver)
	return runner.Run()
}

// Run applies all pending "up" migrations.
func (mr *MigrationRunner) Run() error {
	if _, err := mr.db.Exec(
		`CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := mr.currentVersion()
	if err != nil {
		return err
	}

	if err := mr.LoadMigrations(current, -1); err != nil {
		if errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
			mr.logger.Debug("Schema is up to date", "version", current)
			return nil
		}
		return err
	}

	for _, migration := range mr.migrations {
		if err := mr.apply(migration); err != nil {
			return err
		}
		mr.logger.Info("Applied migration", "version", migration.Version, "name", migration.Name)
	}

	return nil
}

func (mr *MigrationRunner) currentVersion() (int, error) {
	var version sql.NullInt64
	if err := mr.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read current schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (mr *MigrationRunner) apply(migration SchemaMigration) error {
	tx, err := mr.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("migration %04d_%s failed: %w", migration.Version, migration.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %04d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// GetLatestMigrationVersion scans migration files and returns the highest version number
func (mr *MigrationRunner) GetLatestMigrationVersion() (int, error) {
	dirPath, err := mr.migrationDir()
	if err != nil {
		return -1, err
	}

	entries, err := migrationsFS.ReadDir(dirPath)
	if err != nil {
		return -1, fmt.Errorf("failed to read migration directory: %w", err)
	}

	latestVersion := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		migration, err := parseMigrationFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			continue
		}

		// Only consider "up" migrations
		if !migration.Up {
			continue
		}

		if migration.Version > latestVersion {
			latestVersion = migration.Version
		}
	}

	return latestVersion, nil
}

// LoadMigrations loads migrations from the embedded filesystem.
// A target of -1 means the latest version; 0 means the database zero state.
func (mr *MigrationRunner) LoadMigrations(prior int, target int) error {
	if target == -1 {
		latestVersion, err := mr.GetLatestMigrationVersion()
		if err != nil {
			return fmt.Errorf("failed to get latest migration version: %w", err)
		}
		target = latestVersion
	}

	if prior == target {
		return ErrMigrateCurrentVersionSameAsTarget
	}

	dirPath, err := mr.migrationDir()
	if err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read migration directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		migration, err := parseMigrationFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			mr.logger.Warn("Failed to parse migration file", "file", entry.Name(), "error", err)
			continue
		}

		if skipMigration(migration, prior, target) {
			continue
		}

		mr.migrations = append(mr.migrations, migration)
	}

	if prior < target {
		sort.Slice(mr.migrations, func(i, j int) bool {
			return mr.migrations[i].Version < mr.migrations[j].Version
		})
	} else {
		sort.Slice(mr.migrations, func(i, j int) bool {
			return mr.migrations[i].Version > mr.migrations[j].Version
		})
	}

	mr.logger.Info("Loaded migrations", "count", len(mr.migrations), "from_version", prior, "to_version", target)
	return nil
}

func (mr *MigrationRunner) migrationDir() (string, error) {
	switch mr.driver {
	case "sqlite3":
		return "migrations/sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", mr.driver)
	}
}

func skipMigration(migration SchemaMigration, currentVersion int, targetVersion int) bool {
	doUp := targetVersion > currentVersion
	if doUp {
		if !migration.Up {
			return true
		}

		// Skip if the migration version is greater than the target or less
		// than or equal to the prior version.
		if migration.Version > targetVersion || migration.Version <= currentVersion {
			return true
		}
	} else {
		if migration.Up {
			return true
		}

		if migration.Version <= targetVersion || migration.Version > currentVersion {
			return true
		}
	}

	return false
}

// parseMigrationFile parses a migration filename and reads its content.
// Expected format: NNNN_description.up.sql or NNNN_description.down.sql
func parseMigrationFile(path string) (SchemaMigration, error) {
	filename := filepath.Base(path)
	if !reMigrationFilename.MatchString(filename) {
		return SchemaMigration{}, fmt.Errorf("invalid migration filename: %s", filename)
	}

	filenameParts := reMigrationFilename.FindStringSubmatch(filename)
	if len(filenameParts) != 5 {
		return SchemaMigration{}, fmt.Errorf("invalid migration filename format: %s, parts: %v", filename, filenameParts)
	}

	contents, err := migrationsFS.ReadFile(path)
	if err != nil {
		return SchemaMigration{}, fmt.Errorf("failed to read migration file: %w", err)
	}

	version, _ := strconv.Atoi(filenameParts[reMigrationFilename.SubexpIndex("Version")])
	migration := SchemaMigration{
		Version: version,
		Name:    filenameParts[reMigrationFilename.SubexpIndex("Name")],
		Up:      filenameParts[reMigrationFilename.SubexpIndex("Direction")] == "up",
		SQL:     string(contents),
	}

	return migration, nil
}
