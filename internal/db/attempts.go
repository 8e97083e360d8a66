package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/vibration.report/internal/acquisition"
)

// DefaultAttemptLimit caps RecentAttempts when no positive limit is given.
const DefaultAttemptLimit = 100

// RecordAttempt appends one acquisition outcome to the journal. It
// implements acquisition.Journal.
func (db *DB) RecordAttempt(ctx context.Context, a acquisition.Attempt) error {
	var temp sql.NullFloat64
	if a.Temperature != nil {
		temp = sql.NullFloat64{Float64: *a.Temperature, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO acquisition_attempts (
			id, serial, reading_id, outcome, failed_step, encoding, error,
			temperature, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Serial, a.ReadingID, string(a.Outcome), string(a.FailedStep), a.Encoding, a.Error,
		temp, a.StartedAt.UnixNano(), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns the newest attempts first. A serial of "" returns
// attempts for every sensor.
func (db *DB) RecentAttempts(serial string, limit int) ([]acquisition.Attempt, error) {
	if limit <= 0 {
		limit = DefaultAttemptLimit
	}

	query := `SELECT id, serial, reading_id, outcome, failed_step, encoding, error,
			temperature, started_at, duration_ms
		FROM acquisition_attempts`
	args := []interface{}{}
	if serial != "" {
		query += ` WHERE serial = ?`
		args = append(args, serial)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []acquisition.Attempt{}
	for rows.Next() {
		var (
			a          acquisition.Attempt
			outcome    string
			failedStep string
			temp       sql.NullFloat64
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(&a.ID, &a.Serial, &a.ReadingID, &outcome, &failedStep, &a.Encoding, &a.Error,
			&temp, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Outcome = acquisition.Outcome(outcome)
		a.FailedStep = acquisition.Step(failedStep)
		if temp.Valid {
			t := temp.Float64
			a.Temperature = &t
		}
		a.StartedAt = time.Unix(0, startedAt).UTC()
		a.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// OutcomeCounts tallies attempts per outcome for one sensor, or for all
// sensors when serial is "".
func (db *DB) OutcomeCounts(serial string) (map[acquisition.Outcome]int, error) {
	query := `SELECT outcome, COUNT(*) FROM acquisition_attempts`
	args := []interface{}{}
	if serial != "" {
		query += ` WHERE serial = ?`
		args = append(args, serial)
	}
	query += ` GROUP BY outcome`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := map[acquisition.Outcome]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[acquisition.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

var _ acquisition.Journal = (*DB)(nil)
