package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	// import db drivers
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sevigo/testrunner/internal/config"
)

// Supported values of database.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DB is a wrapper around the sqlx.DB connection pool that remembers which
// dialect it talks to.
type DB struct {
	*sqlx.DB
	Driver string
}

// New wraps an open connection. Queries written with '?' placeholders are
// rebound for the connection's dialect by sqlx.
func New(conn *sqlx.DB, driver string) *DB {
	return &DB{DB: conn, Driver: driver}
}

// NewDatabase creates a new database connection and applies pending migrations.
func NewDatabase(cfg *config.DBConfig) (*DB, func(), error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, func() {}, fmt.Errorf("failed to ping database: %w", err)
	}

	db := New(conn, cfg.Driver)

	slog.Info("running database migrations", "driver", cfg.Driver)
	if err := db.RunMigrations(); err != nil {
		_ = conn.Close()
		return nil, func() {}, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations completed successfully")

	return db, func() {
		if err := conn.Close(); err != nil {
			slog.Error("failed to close database connection", "error", err)
		}
	}, nil
}

func connect(cfg *config.DBConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		conn, err := sqlx.Connect(DriverPostgres, PostgresDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		return conn, nil
	case DriverSQLite:
		conn, err := sqlx.Connect(DriverSQLite, SQLiteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.Path, err)
		}
		// sqlite allows a single writer; one connection avoids "database is locked".
		conn.SetMaxOpenConns(1)
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// PostgresDSN builds a lib/pq connection string from the config fields.
func PostgresDSN(cfg *config.DBConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

// SQLiteDSN builds a modernc sqlite DSN with WAL mode and a busy timeout.
func SQLiteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
}

// RunMigrations executes pending database migrations embedded in the binary.
// A schema left dirty by a previously failed migration is reported instead of
// being migrated further.
func (db *DB) RunMigrations() error {
	migrator, err := db.newMigrator()
	if err != nil {
		return err
	}

	_, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("failed to apply migrations: database is in dirty state. You might need to manually fix it (e.g., 'migrate force <version>') or check logs for previous migration errors")
	}

	err = migrator.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// MigrationVersion reports the applied schema version.
func (db *DB) MigrationVersion() (uint, bool, error) {
	migrator, err := db.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrator() (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+db.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	var dbDriver database.Driver
	switch db.Driver {
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db.DB.DB, &postgres.Config{})
	case DriverSQLite:
		dbDriver, err = migratesqlite.WithInstance(db.DB.DB, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, db.Driver, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return migrator, nil
}
