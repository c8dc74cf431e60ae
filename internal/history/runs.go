package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sift/internal/relocate"
	"sift/internal/report"
)

// Run is one row of the ledger.
type Run struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	DryRun       bool          `json:"dry_run"`
	Symlinks     bool          `json:"symlinks"`
	Policy       string        `json:"policy"`
	Roots        []string      `json:"roots"`
	Files        int           `json:"files"`
	Cached       int           `json:"cached"`
	Processed    int           `json:"processed"`
	FailedFiles  int           `json:"failed_files"`
	Candidates   int           `json:"candidates"`
	Errors       int           `json:"errors"`
	Detections   int           `json:"detections"`
	CacheHits    int64         `json:"cache_hits"`
	CacheMisses  int64         `json:"cache_misses"`
	CacheInvalid int64         `json:"cache_invalid"`
	Duration     time.Duration `json:"duration"`
}

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, started_at, dry_run, symlinks, policy, roots_json, files, cached, processed,
    failed_files, candidates, errors, detections, cache_hits, cache_misses, cache_invalid, duration_ms`

// Record stores a run summary and its relocation records in one transaction.
func (s *Store) Record(ctx context.Context, summary report.Summary) error {
	if summary.RunID == "" {
		return errors.New("summary has no run id")
	}
	roots, err := json.Marshal(nonNil(summary.Scan.Roots))
	if err != nil {
		return fmt.Errorf("encode roots: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin history tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.RunID,
			summary.Timestamp.UTC().Format(timeLayout),
			boolToInt(summary.DryRun),
			boolToInt(summary.Symlinks),
			summary.Policy,
			string(roots),
			summary.Scan.Files,
			summary.Scan.Cached,
			summary.Scan.Processed,
			summary.Scan.Failed,
			summary.TotalCandidates,
			summary.TotalErrors,
			summary.TotalDetections,
			summary.Cache.Hits,
			summary.Cache.Misses,
			summary.Cache.Invalid,
			summary.Scan.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO records (run_id, source, target, bucket, outcome, reason, detections, labels_json, max_confidence)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare record insert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range summary.Records {
			labels, err := json.Marshal(nonNil(rec.Labels))
			if err != nil {
				return fmt.Errorf("encode labels: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				summary.RunID, rec.Source, rec.Target, rec.Bucket, string(rec.Outcome),
				nullableString(rec.Reason), rec.Count, string(labels), rec.MaxConfidence,
			); err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
		}
		return tx.Commit()
	})
}

// List returns the most recent runs first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Get returns a run by id, or nil when it does not exist. A unique id prefix
// is accepted.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`, id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.ID == id {
			return run, nil
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Records returns the relocation records stored for a run.
func (s *Store) Records(ctx context.Context, runID string) ([]relocate.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, target, bucket, outcome, reason, detections, labels_json, max_confidence
         FROM records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []relocate.Record
	for rows.Next() {
		var (
			rec     relocate.Record
			outcome string
			reason  sql.NullString
			labels  string
		)
		if err := rows.Scan(&rec.Source, &rec.Target, &rec.Bucket, &outcome, &reason,
			&rec.Count, &labels, &rec.MaxConfidence); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Outcome = relocate.Outcome(outcome)
		rec.Reason = reason.String
		if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		dryRun     int
		symlinks   int
		roots      string
		durationMs int64
	)
	if err := row.Scan(&run.ID, &startedAt, &dryRun, &symlinks, &run.Policy, &roots,
		&run.Files, &run.Cached, &run.Processed, &run.FailedFiles, &run.Candidates,
		&run.Errors, &run.Detections, &run.CacheHits, &run.CacheMisses, &run.CacheInvalid,
		&durationMs); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	ts, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse run timestamp: %w", err)
	}
	run.StartedAt = ts
	run.DryRun = dryRun != 0
	run.Symlinks = symlinks != 0
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(roots), &run.Roots); err != nil {
		return nil, fmt.Errorf("decode roots: %w", err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
