package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/util"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultOperationTimeout = 5 * time.Second
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps every driver failure, including timeouts
	ErrUnavailable = errors.New("storage unavailable")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config describes how to reach the database
type Config struct {
	Driver           string
	URL              string
	OperationTimeout time.Duration
}

// Store owns the connection pool. Its embedded Queries run outside any
// transaction; InTx hands out Queries bound to one.
type Store struct {
	*Queries
	db *sqlx.DB
}

// NewStore connects to the database and applies pending migrations
func NewStore(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// a single writer connection; also keeps an in-memory database alive
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(cfg.Driver, cfg.URL, db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		Queries: &Queries{q: db, timeout: cfg.OperationTimeout},
		db:      db,
	}, nil
}

// Migrate applies the embedded schema migrations. Postgres migrations run on
// their own connection opened from databaseURL; SQLite ones reuse db.
func Migrate(driver, databaseURL string, db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case DriverPostgres:
		m, err = migrate.NewWithSourceInstance("iofs", src, databaseURL)
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
		defer m.Close()
	case DriverSQLite:
		// closing this instance would close db
		drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("failed to create migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, DriverSQLite, drv)
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database within the operation timeout
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// InTx runs fn inside one transaction. Any error from fn rolls everything
// back; the whole transaction shares a single operation timeout.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, timeout: s.timeout}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Queries holds every statement the service issues, bound either to the
// pool or to a transaction
type Queries struct {
	q       sqlx.ExtContext
	timeout time.Duration
}

func (q *Queries) begin(ctx context.Context, op string) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	start := time.Now()
	return ctx, func() {
		cancel()
		util.StorageLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (q *Queries) rebind(query string) string {
	return q.q.Rebind(query)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return unavailable(op, err)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("rows_affected", err)
	}
	return n > 0, nil
}
