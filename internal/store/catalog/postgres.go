package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool behind the SQL catalog.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore is the pgx-backed catalog for deployments where the
// dashboard runs on a different host than the collector.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgres connects a pool and returns the store. The expected schema:
//
//	CREATE TABLE tickets (
//	    source TEXT NOT NULL,
//	    fingerprint TEXT NOT NULL,
//	    title TEXT NOT NULL,
//	    genre TEXT NOT NULL,
//	    place TEXT NOT NULL,
//	    open_date TIMESTAMPTZ,
//	    performance_date TIMESTAMPTZ,
//	    performance_date_text TEXT NOT NULL DEFAULT '',
//	    url TEXT NOT NULL DEFAULT '',
//	    image_url TEXT NOT NULL DEFAULT '',
//	    collected_at TIMESTAMPTZ NOT NULL,
//	    highlight BOOLEAN NOT NULL DEFAULT FALSE,
//	    PRIMARY KEY (source, fingerprint)
//	);
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresWithPool(pool, cfg.Table)
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tickets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Upsert writes each ticket, replacing by (source, fingerprint).
func (s *PostgresStore) Upsert(ctx context.Context, tickets []ticket.Ticket) error {
	//nolint:gosec // table name is regexp-validated at construction
	query := fmt.Sprintf(`INSERT INTO %s
		(source, fingerprint, title, genre, place, open_date, performance_date,
		 performance_date_text, url, image_url, collected_at, highlight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source, fingerprint) DO UPDATE SET
		 title = EXCLUDED.title,
		 genre = EXCLUDED.genre,
		 place = EXCLUDED.place,
		 open_date = EXCLUDED.open_date,
		 performance_date = EXCLUDED.performance_date,
		 performance_date_text = EXCLUDED.performance_date_text,
		 url = EXCLUDED.url,
		 image_url = EXCLUDED.image_url,
		 collected_at = EXCLUDED.collected_at,
		 highlight = EXCLUDED.highlight`, s.table)

	for _, t := range tickets {
		if _, err := s.pool.Exec(ctx, query,
			string(t.Source), t.Fingerprint, t.Title, t.Genre, t.Place,
			nullableTime(t.OpenDate), nullableTime(t.PerformanceDate),
			t.PerformanceDateText, t.URL, t.ImageURL, t.CollectedAt, t.Highlight,
		); err != nil {
			return fmt.Errorf("upsert ticket %s: %w", t.Fingerprint, err)
		}
	}
	return nil
}

// Query fetches tickets matching q, ordered in SQL. Undetermined open
// dates are stored as NULL and sort last in date orderings.
func (s *PostgresStore) Query(ctx context.Context, q ticket.Query) ([]ticket.Ticket, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Source != "" {
		where = append(where, "source = "+arg(string(q.Source)))
	}
	if q.Genre != "" {
		where = append(where, "LOWER(genre) = LOWER("+arg(q.Genre)+")")
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		p := arg("%" + strings.ToLower(kw) + "%")
		where = append(where, "(LOWER(title) LIKE "+p+" OR LOWER(place) LIKE "+p+")")
	}
	if !q.From.IsZero() {
		where = append(where, "open_date >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "open_date <= "+arg(q.To))
	}

	//nolint:gosec // table name is regexp-validated at construction
	query := fmt.Sprintf(`SELECT source, fingerprint, title, genre, place,
		open_date, performance_date, performance_date_text, url, image_url,
		collected_at, highlight FROM %s`, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderClause(q.Sort)
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		var (
			t      ticket.Ticket
			src    string
			openAt *time.Time
			perfAt *time.Time
		)
		if err := rows.Scan(&src, &t.Fingerprint, &t.Title, &t.Genre, &t.Place,
			&openAt, &perfAt, &t.PerformanceDateText, &t.URL, &t.ImageURL,
			&t.CollectedAt, &t.Highlight); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		t.Source = ticket.Source(src)
		if openAt != nil {
			t.OpenDate = *openAt
		}
		if perfAt != nil {
			t.PerformanceDate = *perfAt
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

// Count returns the catalog cardinality.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	//nolint:gosec // table name is regexp-validated at construction
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count catalog: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func orderClause(order ticket.SortOrder) string {
	switch order {
	case ticket.SortOpenDateDesc:
		return "open_date DESC NULLS LAST"
	case ticket.SortPerformance:
		return "performance_date ASC NULLS LAST"
	case ticket.SortTitle:
		return "title ASC"
	case ticket.SortRecency, ticket.SortRecencyAlias:
		return "collected_at DESC"
	default:
		return "open_date ASC NULLS LAST, collected_at ASC"
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
