// Package store persists communities, metrics, scores, comparisons and
// review posts through database/sql. SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq) share one schema; queries are written with ?
// placeholders and rebound for PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate key")

// Store is the persistence layer. Metrics and scores are last-writer-wins.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the schema if needed. For SQLite
// the parent directory of dsn is created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("creating database dir: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection: writers are serialized and :memory: stays one database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
			return fmt.Errorf("configuring sqlite: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS communities (
	community_id     TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	center_lat       DOUBLE PRECISION,
	center_lng       DOUBLE PRECISION,
	boundary_geojson TEXT NOT NULL DEFAULT '',
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_communities_name ON communities(name);

CREATE TABLE IF NOT EXISTS community_metrics (
	community_id            TEXT PRIMARY KEY REFERENCES communities(community_id),
	median_rent             DOUBLE PRECISION,
	rent_2b2b               DOUBLE PRECISION,
	rent_1b1b               DOUBLE PRECISION,
	avg_sqft                DOUBLE PRECISION,
	grocery_density_per_km2 DOUBLE PRECISION,
	crime_rate_per_100k     DOUBLE PRECISION,
	rent_trend_12m_pct      DOUBLE PRECISION,
	night_activity_index    DOUBLE PRECISION,
	noise_avg_db            DOUBLE PRECISION,
	noise_p90_db            DOUBLE PRECISION,
	commute_minutes         DOUBLE PRECISION,
	review_video_ids        TEXT NOT NULL DEFAULT '[]',
	raw_comments            TEXT NOT NULL DEFAULT '[]',
	confidence              DOUBLE PRECISION NOT NULL DEFAULT 0,
	provenance              TEXT NOT NULL DEFAULT '{}',
	updated_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dimension_scores (
	community_id TEXT NOT NULL REFERENCES communities(community_id),
	dimension    TEXT NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	inputs       TEXT NOT NULL DEFAULT '{}',
	data_origin  TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (community_id, dimension)
);

CREATE TABLE IF NOT EXISTS comparisons (
	comparison_id  TEXT PRIMARY KEY,
	community_a_id TEXT NOT NULL,
	community_b_id TEXT NOT NULL,
	request_params TEXT NOT NULL DEFAULT '{}',
	weights        TEXT NOT NULL DEFAULT '{}',
	diff           TEXT NOT NULL DEFAULT '{}',
	summary        TEXT NOT NULL DEFAULT '',
	tradeoffs      TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL,
	missing_fields TEXT NOT NULL DEFAULT '[]',
	data_origin    TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comparisons_a ON comparisons(community_a_id);
CREATE INDEX IF NOT EXISTS idx_comparisons_b ON comparisons(community_b_id);

CREATE TABLE IF NOT EXISTS review_posts (
	post_id      TEXT PRIMARY KEY,
	community_id TEXT NOT NULL REFERENCES communities(community_id),
	platform     TEXT NOT NULL,
	external_id  TEXT NOT NULL,
	body         TEXT NOT NULL,
	author       TEXT NOT NULL DEFAULT '',
	like_count   INTEGER,
	parent_id    TEXT NOT NULL DEFAULT '',
	posted_at    TEXT,
	UNIQUE (community_id, platform, external_id)
);
`

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// Timestamps are stored as RFC 3339 text in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
