// Package persistence stores document metadata and imported users in a
// relational database. DuckDB is the default engine; MySQL is supported for
// deployments that already run one.
package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
)

const (
	DriverDuckDB = "duckdb"
	DriverMySQL  = "mysql"
)

// Config selects and tunes the database.
type Config struct {
	Driver       string // duckdb or mysql
	DSN          string // file path for duckdb ("" is in-memory), URL for mysql
	MaxOpenConns int
	MaxIdleConns int

	// DuckDB only
	MemoryLimit string
	Threads     int
}

// Store is the relational store shared by the upload and import pipelines.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *logrus.Entry
}

type dialect struct {
	name         string
	schema       []string
	insertIgnore string // statement prefix that skips rows with an existing key
}

var duckdbDialect = dialect{
	name: DriverDuckDB,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id           VARCHAR PRIMARY KEY,
			name         VARCHAR NOT NULL,
			remote_url   VARCHAR NOT NULL,
			content_hash VARCHAR NOT NULL,
			size         BIGINT NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents (content_hash)`,
		`CREATE TABLE IF NOT EXISTS users (
			id       BIGINT PRIMARY KEY,
			name     VARCHAR NOT NULL,
			email    VARCHAR NOT NULL,
			password VARCHAR NOT NULL
		)`,
	},
	insertIgnore: "INSERT OR IGNORE INTO",
}

var mysqlDialect = dialect{
	name: DriverMySQL,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id           VARCHAR(36) PRIMARY KEY,
			name         VARCHAR(255) NOT NULL,
			remote_url   VARCHAR(1024) NOT NULL,
			content_hash CHAR(64) NOT NULL,
			size         BIGINT NOT NULL,
			created_at   DATETIME(6) NOT NULL,
			INDEX idx_documents_hash (content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id       BIGINT PRIMARY KEY,
			name     VARCHAR(255) NOT NULL,
			email    VARCHAR(255) NOT NULL,
			password VARCHAR(255) NOT NULL
		)`,
	},
	insertIgnore: "INSERT IGNORE INTO",
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"component": "persistence", "driver": cfg.Driver})

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch cfg.Driver {
	case "", DriverDuckDB:
		db, err = openDuckDB(cfg)
		d = duckdbDialect
	case DriverMySQL:
		db, err = openMySQL(cfg)
		d = mysqlDialect
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: d, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("max_open_conns", cfg.MaxOpenConns).Info("database ready")
	return s, nil
}

func openDuckDB(cfg Config) (*sql.DB, error) {
	memoryLimit := cfg.MemoryLimit
	if memoryLimit == "" {
		memoryLimit = "1GB"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = 4
	}

	connector, err := duckdb.NewConnector(cfg.DSN, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", memoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openMySQL(cfg Config) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	// created_at scans into time.Time
	mc.ParseTime = true
	mc.Loc = time.UTC

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Driver returns the name of the database engine in use.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}
