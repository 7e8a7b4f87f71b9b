package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// dialect captures what differs between the supported drivers.
type dialect struct {
	driver      string
	placeholder squirrel.PlaceholderFormat
	schema      []string
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS ix_ticker_date ON market_data(ticker, date)`,
	`CREATE INDEX IF NOT EXISTS ix_market_data_ticker ON market_data(ticker)`,
	`CREATE INDEX IF NOT EXISTS ix_market_data_date ON market_data(date)`,
}

var dialects = map[string]dialect{
	"sqlite": {
		driver:      "sqlite",
		placeholder: squirrel.Question,
		schema: append([]string{
			`CREATE TABLE IF NOT EXISTS market_data (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker     TEXT    NOT NULL,
				date       TEXT    NOT NULL,
				open       TEXT    NOT NULL,
				high       TEXT    NOT NULL,
				low        TEXT    NOT NULL,
				close      TEXT    NOT NULL,
				volume     INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				CONSTRAINT uq_ticker_date UNIQUE (ticker, date)
			)`,
		}, indexes...),
	},
	"postgres": {
		driver:      "postgres",
		placeholder: squirrel.Dollar,
		schema: append([]string{
			`CREATE TABLE IF NOT EXISTS market_data (
				id         BIGSERIAL     PRIMARY KEY,
				ticker     VARCHAR(10)   NOT NULL,
				date       DATE          NOT NULL,
				open       NUMERIC(10,2) NOT NULL,
				high       NUMERIC(10,2) NOT NULL,
				low        NUMERIC(10,2) NOT NULL,
				close      NUMERIC(10,2) NOT NULL,
				volume     BIGINT        NOT NULL,
				created_at BIGINT        NOT NULL,
				updated_at BIGINT        NOT NULL,
				CONSTRAINT uq_ticker_date UNIQUE (ticker, date)
			)`,
		}, indexes...),
	},
}

// Store persists market bars in a single market_data table.
type Store struct {
	db      *sql.DB
	dialect dialect
	sq      squirrel.StatementBuilderType
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the database and runs migrations. driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger, opts ...Option) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		// One connection: serializes writers and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	case "postgres":
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{
		db:      db,
		dialect: d,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(d.placeholder),
		now:     time.Now,
		logger:  logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("store opened", zap.String("driver", driver))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Ping checks the connection with a short timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string { return s.dialect.driver }

func (s *Store) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
