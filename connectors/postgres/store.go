// Package postgres persists analysis runs and their weekly series.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"booking-stats/domain/weekly"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrMissingURL    = errors.New("postgres: database url is required")
	ErrInvalidSchema = errors.New("postgres: invalid schema name")
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run is one persisted analysis.
type Run struct {
	Source      string
	Tag         string
	InvalidRows int
	Result      weekly.Result
}

// Store writes runs into <schema>.analysis_runs and <schema>.analysis_weeks.
type Store struct {
	db     *sql.DB
	schema string
}

// URLFromEnv returns BOOKING_STATS_DB_URL, falling back to DATABASE_URL.
func URLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv("BOOKING_STATS_DB_URL")); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

// SanitizeSchema validates a schema name before it is interpolated into SQL.
func SanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || !schemaPattern.MatchString(value) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchema, value)
	}
	return value, nil
}

// Open connects, pings and makes sure the schema exists.
func Open(ctx context.Context, url, schema string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrMissingURL
	}
	schema, err := SanitizeSchema(schema)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, schema: schema}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the schema and tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(schema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.analysis_runs (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			anchor_policy TEXT NOT NULL,
			anchor_date DATE NOT NULL,
			threshold_method TEXT NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL,
			week_count INTEGER NOT NULL,
			booking_count INTEGER NOT NULL,
			invalid_rows INTEGER NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			std_dev DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			percentile DOUBLE PRECISION NOT NULL,
			percentile_value DOUBLE PRECISION NOT NULL,
			active_threshold DOUBLE PRECISION NOT NULL,
			trend_slope DOUBLE PRECISION NOT NULL,
			trend_intercept DOUBLE PRECISION NOT NULL,
			run_tag TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.analysis_weeks (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES %s.analysis_runs(id) ON DELETE CASCADE,
			week_index INTEGER NOT NULL,
			week_start DATE NOT NULL,
			week_end DATE NOT NULL,
			iso_year INTEGER NOT NULL,
			iso_week INTEGER NOT NULL,
			bookings INTEGER NOT NULL,
			z_score DOUBLE PRECISION NOT NULL,
			flagged BOOLEAN NOT NULL,
			UNIQUE (run_id, week_index)
		)`, schema, schema),
	}
}

// SaveRun stores a run and all of its weeks in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) (id uuid.UUID, err error) {
	id = uuid.New()
	res := run.Result

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.analysis_runs (
			id, source, anchor_policy, anchor_date, threshold_method, multiplier,
			week_count, booking_count, invalid_rows, mean, std_dev, threshold,
			percentile, percentile_value, active_threshold, trend_slope, trend_intercept, run_tag
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,$12,
			$13,$14,$15,$16,$17,$18
		)`, s.schema),
		id,
		run.Source,
		string(res.Policy),
		res.Anchor,
		string(res.Method),
		res.Stats.K,
		res.Stats.Weeks,
		res.Stats.Events,
		run.InvalidRows,
		res.Stats.Mean,
		res.Stats.StdDev,
		res.Stats.Threshold,
		res.Stats.Percentile,
		res.Stats.PercentileValue,
		res.ActiveThreshold,
		res.Stats.Trend.Slope,
		res.Stats.Trend.Intercept,
		nullString(run.Tag),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	insertWeekSQL := fmt.Sprintf(`
		INSERT INTO %s.analysis_weeks (
			id, run_id, week_index, week_start, week_end,
			iso_year, iso_week, bookings, z_score, flagged
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10
		)`, s.schema)
	for _, b := range res.Bins {
		_, err = tx.ExecContext(ctx, insertWeekSQL,
			uuid.New(), id, b.Index, b.Start, b.End,
			b.ISOYear, b.ISOWeek, b.Count, b.ZScore, b.Flagged,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert week %d: %w", b.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// RunSummary is a stored run as listed by RecentRuns.
type RunSummary struct {
	ID        uuid.UUID `json:"id"`
	Source    string    `json:"source"`
	Policy    string    `json:"anchor_policy"`
	Weeks     int       `json:"weeks"`
	Bookings  int       `json:"bookings"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Threshold float64   `json:"threshold"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source, anchor_policy, week_count, booking_count, mean, std_dev, threshold,
			COALESCE(run_tag, ''), created_at
		FROM %s.analysis_runs
		ORDER BY created_at DESC
		LIMIT $1`, s.schema), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Source, &r.Policy, &r.Weeks, &r.Bookings, &r.Mean, &r.StdDev, &r.Threshold, &r.Tag, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
