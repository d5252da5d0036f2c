package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
)

// ErrRunNotFound is returned when no run matches a run id.
var ErrRunNotFound = errors.New("run not found")

// Run statuses
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

const (
	unitLogTable  = "unit_event_log"
	schemaRunsSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      VARCHAR PRIMARY KEY,
    started_at  TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    status      VARCHAR NOT NULL,
    message     VARCHAR
);`
	schemaUnitLogSQL = `
CREATE TABLE IF NOT EXISTS unit_event_log (
    run_id          VARCHAR NOT NULL,
    tag             VARCHAR NOT NULL,   -- batch run, e.g. 'sharp_headers'
    unit_id         BIGINT NOT NULL,    -- HARPNUM / TARPNUM
    outcome_code    INTEGER NOT NULL,   -- -1 for failed units
    outcome         VARCHAR NOT NULL,
    message         VARCHAR,
    event_timestamp TIMESTAMP NOT NULL,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_unit_event_log_run ON unit_event_log (run_id, tag);
CREATE INDEX IF NOT EXISTS idx_unit_event_log_unit ON unit_event_log (tag, unit_id);
`
)

// InitializeSchema creates the ledger tables.
func InitializeSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaRunsSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute runs table setup: %w", err)
	}
	if _, err := db.Exec(schemaUnitLogSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute unit log table/index setup: %w", err)
	}
	return nil
}

// UnitEvent is the ledger entry of one unit of work.
type UnitEvent struct {
	Tag      string
	ID       int
	Code     int
	Outcome  string
	Message  string
	Duration time.Duration
}

// Ledger records every run and every unit outcome in DuckDB.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.With(slog.String("component", "ledger"))}
}

// StartRun registers a new run and returns its id.
func (l *Ledger) StartRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, ?);`,
		runID, time.Now().UTC(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to register run: %w", err)
	}
	l.logger.Info("Run registered.", slog.String("run_id", runID))
	return runID, nil
}

// FinishRun marks a run complete, or failed when runErr is set.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := RunComplete, sql.NullString{}
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, message = ? WHERE run_id = ?;`,
		time.Now().UTC(), status, msg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// RecordUnits appends unit events of runID through a DuckDB appender.
func (l *Ledger) RecordUnits(ctx context.Context, runID string, events []UnitEvent) error {
	if len(events) == 0 {
		return nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection from pool: %w", err)
	}
	defer conn.Close()

	now := time.Now().UTC()
	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", unitLogTable)
		if err != nil {
			return fmt.Errorf("failed to create appender for %s: %w", unitLogTable, err)
		}
		var appendErr error
		for _, e := range events {
			var msg any
			if e.Message != "" {
				msg = e.Message
			}
			if err := appender.AppendRow(runID, e.Tag, int64(e.ID), int32(e.Code), e.Outcome, msg, now, e.Duration.Milliseconds()); err != nil {
				appendErr = fmt.Errorf("failed to append unit %s/%d: %w", e.Tag, e.ID, err)
				break
			}
		}
		if err := appender.Close(); err != nil {
			appendErr = errors.Join(appendErr, fmt.Errorf("failed to flush appender for %s: %w", unitLogTable, err))
		}
		return appendErr
	})
}

// OutcomeCounts returns the number of units per outcome code recorded for tag
// in runID.
func (l *Ledger) OutcomeCounts(ctx context.Context, runID, tag string) (map[int]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome_code, COUNT(*) FROM unit_event_log WHERE run_id = ? AND tag = ? GROUP BY outcome_code;`,
		runID, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed scanning outcome count row: %w", err)
		}
		counts[code] = n
	}
	return counts, rows.Err()
}

// LatestOutcome returns the most recent outcome recorded for one unit.
func (l *Ledger) LatestOutcome(ctx context.Context, tag string, id int) (code int, outcome string, found bool, err error) {
	row := l.db.QueryRowContext(ctx, `
        SELECT outcome_code, outcome
        FROM unit_event_log
        WHERE tag = ? AND unit_id = ?
        ORDER BY event_timestamp DESC
        LIMIT 1;`, tag, int64(id))
	if err = row.Scan(&code, &outcome); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("failed query latest outcome for %s/%d: %w", tag, id, err)
	}
	return code, outcome, true, nil
}

// ResolveRunID expands a run id prefix, as printed by DisplayUnitHistory, to
// the full id. The prefix must match exactly one run.
func (l *Ledger) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id FROM runs WHERE starts_with(run_id, ?) LIMIT 2;`, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to look up run %q: %w", prefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed scanning run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrRunNotFound, prefix)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("run id prefix %q is ambiguous", prefix)
}

// DisplayRunOutcomes prints the number of units per outcome code recorded for
// tag in the run identified by runPrefix.
func (l *Ledger) DisplayRunOutcomes(ctx context.Context, w io.Writer, runPrefix, tag string) error {
	runID, err := l.ResolveRunID(ctx, runPrefix)
	if err != nil {
		return err
	}
	counts, err := l.OutcomeCounts(ctx, runID, tag)
	if err != nil {
		return err
	}
	codes := make([]int, 0, len(counts))
	total := 0
	for code, n := range counts {
		codes = append(codes, code)
		total += n
	}
	slices.Sort(codes)

	fmt.Fprintf(w, "--- Outcomes of %s in run %s ---\n", tag, runID)
	fmt.Fprintf(w, "%-8s | %s\n", "Code", "Units")
	fmt.Fprintln(w, strings.Repeat("-", 30))
	for _, code := range codes {
		fmt.Fprintf(w, "%-8d | %d\n", code, counts[code])
	}
	fmt.Fprintf(w, "Total %d units.\n", total)
	return nil
}

// DisplayLatestOutcome prints the most recent outcome recorded for one unit.
func (l *Ledger) DisplayLatestOutcome(ctx context.Context, w io.Writer, tag string, id int) error {
	code, outcome, found, err := l.LatestOutcome(ctx, tag, id)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "No outcome recorded for %s unit %d.\n", tag, id)
		return nil
	}
	fmt.Fprintf(w, "%s unit %d: %d %s\n", tag, id, code, outcome)
	return nil
}

// DisplayRunHistory prints the most recent runs with their per-tag outcome
// totals.
func DisplayRunHistory(ctx context.Context, db *sql.DB, w io.Writer, limit int) error {
	rows, err := db.QueryContext(ctx, `
        SELECT r.run_id, r.started_at, r.finished_at, r.status, r.message,
               COUNT(u.unit_id) AS units,
               COUNT(u.unit_id) FILTER (WHERE u.outcome_code = -1) AS failed
        FROM runs r
        LEFT JOIN unit_event_log u ON u.run_id = r.run_id
        GROUP BY ALL
        ORDER BY r.started_at DESC
        LIMIT ?;`, limit)
	if err != nil {
		return fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "--- Run History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-36s | %-25s | %-10s | %-10s | %-8s | %-8s | %s\n", "Run ID", "Started (UTC)", "Duration", "Status", "Units", "Failed", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	count := 0
	for rows.Next() {
		var runID, status string
		var started time.Time
		var finished sql.NullTime
		var message sql.NullString
		var units, failed int64
		if err := rows.Scan(&runID, &started, &finished, &status, &message, &units, &failed); err != nil {
			return fmt.Errorf("failed to scan run row: %w", err)
		}
		duration := ""
		if finished.Valid {
			duration = finished.Time.Sub(started).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%-36s | %-25s | %-10s | %-10s | %-8d | %-8d | %s\n",
			runID, started.Format(time.RFC3339), duration, status, units, failed, message.String)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating run rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d runs.\n", count)
	return nil
}

// DisplayUnitHistory prints unit events, optionally filtered by tag and outcome.
func DisplayUnitHistory(ctx context.Context, db *sql.DB, w io.Writer, tagFilter, outcomeFilter string, limit int) error {
	query := `
        SELECT run_id, tag, unit_id, outcome_code, outcome, message, event_timestamp, duration_ms
        FROM unit_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if tagFilter != "" {
		conditions = append(conditions, fmt.Sprintf("tag = $%d", argCounter))
		args = append(args, tagFilter)
		argCounter++
	}
	if outcomeFilter != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argCounter))
		args = append(args, outcomeFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, tag, unit_id LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query unit log: %w \n Query: %s \n Args: %v", err, query, args)
	}
	defer rows.Close()

	fmt.Fprintf(w, "--- Unit History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-15s | %-8s | %-13s | %-25s | %-10s | %s\n", "Run", "Tag", "ID", "Outcome", "Timestamp (UTC)", "DurationMS", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	count := 0
	for rows.Next() {
		var runID, tag, outcome string
		var unitID int64
		var code int
		var message sql.NullString
		var ts time.Time
		var durationMs sql.NullInt64
		if err := rows.Scan(&runID, &tag, &unitID, &code, &outcome, &message, &ts, &durationMs); err != nil {
			return fmt.Errorf("failed to scan unit log row: %w", err)
		}
		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		fmt.Fprintf(w, "%-8s | %-15s | %-8d | %-13s | %-25s | %-10s | %s\n",
			shortID(runID), tag, unitID, fmt.Sprintf("%d %s", code, outcome), ts.Format(time.RFC3339), durationStr, message.String)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating unit log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
