package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/db"
	"github.com/sells-group/renovation-report/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const postgresReportColumns = `id, input_kind, source_url, source_address, status, failure_reason,
	data_source_tag, progress, output, created_at, updated_at, completed_at`

const (
	sqlGetReport = `SELECT ` + postgresReportColumns + ` FROM reports WHERE id = $1`
	sqlFindFresh = `SELECT ` + postgresReportColumns + ` FROM reports
		WHERE status = 'completed' AND completed_at >= $1 AND (source_key = $2 OR address_key = $2)
		ORDER BY completed_at DESC LIMIT 1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_report": sqlGetReport,
	"find_fresh": sqlFindFresh,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	output          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_source_key_completed ON reports(source_key, completed_at DESC)
	WHERE status = 'completed';
CREATE INDEX IF NOT EXISTS idx_reports_address_key_completed ON reports(address_key, completed_at DESC)
	WHERE status = 'completed';
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, input model.ReportInput) (*model.Report, error) {
	r := newReport(uuid.New().String(), input, time.Now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, input_kind, source_url, source_address, source_key, address_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, string(r.InputKind), r.SourceURL, r.SourceAddress, sourceKey(input), addressKey(r),
		string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
	}
	return r, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	row := s.pool.QueryRow(ctx, sqlGetReport, id)
	r, err := scanPostgresReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get report %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + postgresReportColumns + ` FROM reports`
	args := []any{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))
	if len(args) == 3 {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanPostgresReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, t model.Transition) error {
	return s.update(ctx, id, func(r *model.Report, now time.Time) error {
		return applyTransition(r, t, now)
	})
}

func (s *PostgresStore) UpdateFields(ctx context.Context, id string, p model.Patch) error {
	if p.Empty() {
		return nil
	}
	return s.update(ctx, id, func(r *model.Report, now time.Time) error {
		r.Apply(p)
		r.UpdatedAt = now
		return nil
	})
}

func (s *PostgresStore) FindFresh(ctx context.Context, key string, since time.Time) (*model.Report, error) {
	if key == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, sqlFindFresh, since.UTC(), key)
	r, err := scanPostgresReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find fresh report")
	}
	return r, nil
}

// update locks the report row, lets fn mutate it and writes the mutable
// columns back. Concurrent contractor patches on one report queue on the
// row lock instead of overwriting each other.
func (s *PostgresStore) update(ctx context.Context, id string, fn func(r *model.Report, now time.Time) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+postgresReportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id)
		r, err := scanPostgresReport(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: update report %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: load report %s", id)
		}

		if err := fn(r, time.Now().UTC()); err != nil {
			return err
		}

		output, err := encodeOutput(r)
		if err != nil {
			return eris.Wrap(err, "postgres")
		}
		_, err = tx.Exec(ctx,
			`UPDATE reports SET source_url = $1, address_key = $2, status = $3, failure_reason = $4,
			 data_source_tag = $5, progress = $6, output = $7, updated_at = $8, completed_at = $9 WHERE id = $10`,
			r.SourceURL, addressKey(r), string(r.Status), r.FailureReason,
			r.DataSourceTag, r.Progress, output, r.UpdatedAt, r.CompletedAt, id,
		)
		return eris.Wrapf(err, "postgres: update report %s", id)
	})
}

func scanPostgresReport(row pgx.Row) (*model.Report, error) {
	var (
		r           model.Report
		inputKind   string
		status      string
		output      []byte
		completedAt pgtype.Timestamptz
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
	if err := decodeOutput(output, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
