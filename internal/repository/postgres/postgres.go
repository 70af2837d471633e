package postgres

import (
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/prmetrics/pr-history-service/internal/config"
)

// Dialect distinguishes the full postgres backend from the feature-limited
// sqlite one. It only changes which query strategy the issue-label matching
// uses, never its result.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type Metadata struct {
	db      *sqlx.DB
	log     *slog.Logger
	sq      squirrel.StatementBuilderType
	dialect Dialect
}

// NewDB connects to the metadata store described by cfg.
func NewDB(cfg config.Metadata, log *slog.Logger) (*Metadata, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch Dialect(cfg.Dialect) {
	case DialectSQLite:
		db, err = sqlx.Connect("sqlite3", cfg.SQLitePath)
	case DialectPostgres:
		connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		db, err = sqlx.Connect("postgres", connStr)
	default:
		return nil, fmt.Errorf("unknown metadata dialect '%s'", cfg.Dialect)
	}

	if err != nil {
		return nil, fmt.Errorf("can't connect to metadata store: %v", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewMetadata(db, log, Dialect(cfg.Dialect)), nil
}

// NewMetadata wraps an existing connection; used by tests.
func NewMetadata(db *sqlx.DB, log *slog.Logger, dialect Dialect) *Metadata {
	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	if dialect == DialectSQLite {
		sq = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	}

	return &Metadata{
		db:      db,
		log:     log,
		sq:      sq,
		dialect: dialect,
	}
}

func (m *Metadata) DB() *sqlx.DB {
	return m.db
}
