package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/renovation-report/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes read-modify-write updates. SQLite has no row locks.
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	input_kind      TEXT NOT NULL,
	source_url      TEXT NOT NULL DEFAULT '',
	source_address  TEXT NOT NULL DEFAULT '',
	source_key      TEXT NOT NULL,
	address_key     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	failure_reason  TEXT NOT NULL DEFAULT '',
	data_source_tag TEXT NOT NULL DEFAULT '',
	progress        TEXT NOT NULL DEFAULT '',
	output          TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_source_key ON reports(source_key, completed_at);
CREATE INDEX IF NOT EXISTS idx_reports_address_key ON reports(address_key, completed_at);
`

const sqliteReportColumns = `id, input_kind, source_url, source_address, status, failure_reason,
	data_source_tag, progress, output, created_at, updated_at, completed_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReport(ctx context.Context, input model.ReportInput) (*model.Report, error) {
	r := newReport(uuid.New().String(), input, time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, input_kind, source_url, source_address, source_key, address_key, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.InputKind), r.SourceURL, r.SourceAddress, sourceKey(input), addressKey(r),
		string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}
	return r, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanSQLiteReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get report %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + sqliteReportColumns + ` FROM reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var reports []model.Report
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, t model.Transition) error {
	return s.update(ctx, id, func(r *model.Report, now time.Time) error {
		return applyTransition(r, t, now)
	})
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, p model.Patch) error {
	if p.Empty() {
		return nil
	}
	return s.update(ctx, id, func(r *model.Report, now time.Time) error {
		r.Apply(p)
		r.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) FindFresh(ctx context.Context, key string, since time.Time) (*model.Report, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports
		 WHERE status = ? AND completed_at >= ? AND (source_key = ? OR address_key = ?)
		 ORDER BY completed_at DESC LIMIT 1`,
		string(model.StatusCompleted), since.UTC(), key, key,
	)
	r, err := scanSQLiteReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find fresh report")
	}
	return r, nil
}

// update loads the report, lets fn mutate it and writes the mutable
// columns back inside one transaction.
func (s *SQLiteStore) update(ctx context.Context, id string, fn func(r *model.Report, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanSQLiteReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: update report %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load report %s", id)
	}

	if err := fn(r, time.Now().UTC()); err != nil {
		return err
	}

	output, err := encodeOutput(r)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE reports SET source_url = ?, address_key = ?, status = ?, failure_reason = ?, data_source_tag = ?,
		 progress = ?, output = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		r.SourceURL, addressKey(r), string(r.Status), r.FailureReason, r.DataSourceTag,
		r.Progress, string(output), r.UpdatedAt, r.CompletedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row scannable) (*model.Report, error) {
	var (
		r           model.Report
		inputKind   string
		status      string
		output      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &inputKind, &r.SourceURL, &r.SourceAddress, &status, &r.FailureReason,
		&r.DataSourceTag, &r.Progress, &output, &r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.InputKind = model.InputKind(inputKind)
	r.Status = model.ReportStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if output.Valid {
		if err := decodeOutput([]byte(output.String), &r); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
