// Package db stores run history in a SQLite database (optionally encrypted
// with SQLCipher) and marks outcomes as flaky when a scenario's status flips
// between consecutive runs on the same browser.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/scenario-suite/internal/suite"
)

const (
	// MaxOpenConns is the pool cap. SQLite is single-writer, so high
	// connection counts are counterproductive.
	MaxOpenConns = 4
	MaxIdleConns = 1

	// KeySize is the SQLCipher key length in bytes.
	KeySize = 32
)

// Store is the run history. It implements suite.Sink and suite.Finisher.
type Store struct {
	db *sql.DB
}

// StoredOutcome is one persisted outcome row.
type StoredOutcome struct {
	ID             int64
	RunID          string
	Scenario       string
	Site           string
	Browser        string
	Status         suite.Status
	Code           string
	Reason         string
	Expected       string
	Actual         string
	FailedStep     int
	StepsCompleted int
	StepsTotal     int
	FinalURL       string
	Flaky          bool
	StartedAt      time.Time
	Duration       time.Duration
}

// RunRecord is one persisted run summary.
type RunRecord struct {
	RunID     string
	Browser   string
	StartedAt time.Time
	Duration  time.Duration
	Passed    int
	Failed    int
	ReportURL string
}

// FlakeStat counts status flips for one scenario over its recent history.
type FlakeStat struct {
	Scenario string
	Browser  string
	Runs     int
	Flips    int
}

// Open opens or creates the history database at path. A non-empty key
// encrypts the file with SQLCipher; it must be KeySize bytes.
func Open(path string, key []byte) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if len(key) != 0 && len(key) != KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := path
	if len(key) > 0 {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())
	return open(dsn)
}

// OpenInMemory opens a private in-memory history for tests and one-off runs.
func OpenInMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)
	if dsn == ":memory:" {
		// Each connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}

	// A wrong key only shows up on the first real query.
	var tables int
	if err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify history database: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: sqlDB}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores the outcome after comparing it with the scenario's previous
// run on the same browser. A differing status sets o.Flaky and
// o.PreviousStatus so later sinks can report it.
func (s *Store) Record(ctx context.Context, o *suite.Outcome) error {
	prev, err := s.LastOutcome(ctx, o.Scenario, o.Browser)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		o.PreviousStatus = prev.Status
		o.Flaky = prev.Status != o.Status
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, scenario, site, browser, status, code, reason, expected, actual,
		                      failed_step, steps_completed, steps_total, final_url, flaky, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.RunID, o.Scenario, o.Site, o.Browser, string(o.Status), string(o.Code), o.Reason, o.Expected, o.Actual,
		o.FailedStep, o.StepsCompleted, o.StepsTotal, o.FinalURL, boolToInt(o.Flaky),
		o.StartedAt.UnixMilli(), o.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert outcome for %s: %w", o.Scenario, err)
	}
	return nil
}

// Finish stores the run summary.
func (s *Store) Finish(ctx context.Context, sum *suite.Summary) error {
	passed, failed := sum.Counts()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, browser, started_at, duration_ms, passed, failed, report_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
		    duration_ms = excluded.duration_ms,
		    passed = excluded.passed,
		    failed = excluded.failed,
		    report_url = excluded.report_url
	`, sum.RunID, sum.Browser, sum.StartedAt.UnixMilli(), sum.Duration.Milliseconds(), passed, failed, sum.ReportURL)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", sum.RunID, err)
	}
	return nil
}

const outcomeColumns = `id, run_id, scenario, site, browser, status, code, reason, expected, actual,
	failed_step, steps_completed, steps_total, final_url, flaky, started_at, duration_ms`

// LastOutcome returns the most recent stored outcome for a scenario on a
// browser, or sql.ErrNoRows.
func (s *Store) LastOutcome(ctx context.Context, scenario, browser string) (*StoredOutcome, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE scenario = ? AND browser = ?
		ORDER BY id DESC
		LIMIT 1
	`, scenario, browser)
	return scanOutcome(row)
}

// HistoryQuery selects stored outcomes. Empty fields match everything.
type HistoryQuery struct {
	// NamePattern is a Go regular expression over scenario names.
	NamePattern string
	Browser     string
	Status      suite.Status
	Limit       int
}

// History returns matching outcomes, newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]StoredOutcome, error) {
	var where []string
	var args []any
	if q.NamePattern != "" {
		where = append(where, "scenario REGEXP ?")
		args = append(args, q.NamePattern)
	}
	if q.Browser != "" {
		where = append(where, "browser = ?")
		args = append(args, q.Browser)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + outcomeColumns + " FROM outcomes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var out []StoredOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// Runs returns the most recent run summaries, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, browser, started_at, duration_ms, passed, failed, report_url
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs query failed: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedMS, durMS int64
		var reportURL sql.NullString
		if err := rows.Scan(&r.RunID, &r.Browser, &startedMS, &durMS, &r.Passed, &r.Failed, &reportURL); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.ReportURL = reportURL.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// FlakeStats counts status flips across each scenario's last window runs
// and returns the scenarios with at least one flip, most flips first.
func (s *Store) FlakeStats(ctx context.Context, window int) ([]FlakeStat, error) {
	if window < 2 {
		window = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH recent AS (
		    SELECT scenario, browser, status,
		           ROW_NUMBER() OVER (PARTITION BY scenario, browser ORDER BY id DESC) AS rn,
		           LAG(status) OVER (PARTITION BY scenario, browser ORDER BY id) AS prev
		    FROM outcomes
		)
		SELECT scenario, browser, COUNT(*) AS runs,
		       SUM(CASE WHEN prev IS NOT NULL AND prev != status AND rn < ? THEN 1 ELSE 0 END) AS flips
		FROM recent
		WHERE rn <= ?
		GROUP BY scenario, browser
		HAVING flips > 0
		ORDER BY flips DESC, scenario
	`, window, window)
	if err != nil {
		return nil, fmt.Errorf("flake query failed: %w", err)
	}
	defer rows.Close()

	var out []FlakeStat
	for rows.Next() {
		var f FlakeStat
		if err := rows.Scan(&f.Scenario, &f.Browser, &f.Runs, &f.Flips); err != nil {
			return nil, fmt.Errorf("failed to scan flake stat: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*StoredOutcome, error) {
	var o StoredOutcome
	var status string
	var code, reason, expected, actual, finalURL sql.NullString
	var flaky int
	var startedMS, durMS int64
	err := row.Scan(&o.ID, &o.RunID, &o.Scenario, &o.Site, &o.Browser, &status, &code, &reason, &expected, &actual,
		&o.FailedStep, &o.StepsCompleted, &o.StepsTotal, &finalURL, &flaky, &startedMS, &durMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}
	o.Status = suite.Status(status)
	o.Code = code.String
	o.Reason = reason.String
	o.Expected = expected.String
	o.Actual = actual.String
	o.FinalURL = finalURL.String
	o.Flaky = flaky != 0
	o.StartedAt = time.UnixMilli(startedMS).UTC()
	o.Duration = time.Duration(durMS) * time.Millisecond
	return &o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
