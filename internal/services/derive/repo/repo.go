// Package repo provides the run ledger: a Postgres binder over xy_runs and an
// in-memory fallback used when no database is configured
package repo

import (
	"context"
	"time"

	"metxy/internal/modkit/repokit"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/store"
	pstrings "metxy/internal/platform/strings"
	"metxy/internal/services/derive/domain"
)

// Schema creates the ledger table; one row per (version, epoch, tag, met)
const Schema = `
	CREATE TABLE IF NOT EXISTS xy_runs (
		version     text        NOT NULL,
		epoch       text        NOT NULL,
		tag         text        NOT NULL,
		met         text        NOT NULL,
		run_id      uuid        NOT NULL,
		phase       text        NOT NULL,
		stage       text        NOT NULL DEFAULT 'unstarted',
		status      text        NOT NULL,
		files       integer     NOT NULL DEFAULT 0,
		events      bigint      NOT NULL DEFAULT 0,
		accepted    bigint      NOT NULL DEFAULT 0,
		elapsed_ms  integer     NOT NULL DEFAULT 0,
		error       text,
		started_at  timestamptz NOT NULL DEFAULT now(),
		finished_at timestamptz,
		PRIMARY KEY (version, epoch, tag, met)
	)`

const runColumns = `version, epoch, tag, met, run_id::text, phase, stage, status,
	files, events, accepted, elapsed_ms, COALESCE(error, ''), started_at, finished_at`

type (
	// PG is a Postgres binder for domain.Ledger
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.Ledger
func NewPG() repokit.Binder[domain.Ledger] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.Ledger { return &queries{q: q} }

// EnsureSchema creates xy_runs when missing
func EnsureSchema(ctx context.Context, db repokit.Queryer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return perr.FromPostgres(err, "create xy_runs")
	}
	return nil
}

// Start upserts the row as running; the reached stage is kept
func (r *queries) Start(ctx context.Context, runID string, k domain.Key, phase domain.Phase) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO xy_runs (version, epoch, tag, met, run_id, phase, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'running')
		ON CONFLICT (version, epoch, tag, met) DO UPDATE
		SET run_id = EXCLUDED.run_id, phase = EXCLUDED.phase, status = 'running',
			error = NULL, started_at = now(), finished_at = NULL
	`, k.Version, k.Epoch, k.Tag, k.MET, runID, string(phase))
	if err != nil {
		return perr.WithOp(perr.FromPostgres(err, "ledger start"), k.Op())
	}
	return nil
}

// Finish closes the row opened by Start under the same run id
func (r *queries) Finish(ctx context.Context, runID string, k domain.Key, phase domain.Phase, fin domain.Finish) error {
	status, stage := outcome(fin)
	err := store.ExecOne(ctx, r.q, `
		UPDATE xy_runs SET
			finished_at = now(),
			phase = $6,
			status = $7,
			stage = CASE WHEN $8 = '' THEN stage ELSE $8 END,
			files = $9,
			events = $10,
			accepted = $11,
			elapsed_ms = $12,
			error = $13
		WHERE version = $1 AND epoch = $2 AND tag = $3 AND met = $4 AND run_id = $5
	`,
		k.Version, k.Epoch, k.Tag, k.MET, runID, string(phase), status, string(stage),
		fin.Files, fin.Events, fin.Accepted, fin.ElapsedMS, pstrings.SQLNull(fin.ErrText),
	)
	return perr.WithOp(err, k.Op())
}

// Get returns the ledger row of k
func (r *queries) Get(ctx context.Context, k domain.Key) (domain.Run, error) {
	run, err := store.One(ctx, r.q, scanRun, `SELECT `+runColumns+` FROM xy_runs
		WHERE version = $1 AND epoch = $2 AND tag = $3 AND met = $4`,
		k.Version, k.Epoch, k.Tag, k.MET)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return domain.Run{}, perr.WithOp(perr.NotFoundf("no ledger entry"), k.Op())
	}
	return run, err
}

// List returns every row of version/epoch ordered by tag then MET
func (r *queries) List(ctx context.Context, version, epoch string) ([]domain.Run, error) {
	return store.Many(ctx, r.q, scanRun, `SELECT `+runColumns+` FROM xy_runs
		WHERE version = $1 AND epoch = $2 ORDER BY tag, met`, version, epoch)
}

func scanRun(row store.Row) (domain.Run, error) {
	var (
		run          domain.Run
		phase, stage string
	)
	err := row.Scan(
		&run.Version, &run.Epoch, &run.Tag, &run.MET, &run.RunID, &phase, &stage, &run.Status,
		&run.Files, &run.Events, &run.Accepted, &run.ElapsedMS, &run.ErrText, &run.StartedAt, &run.FinishedAt,
	)
	run.Phase, run.Stage = domain.Phase(phase), domain.Stage(stage)
	return run, err
}

// outcome maps a Finish to (status, stage); an empty stage keeps the stored one
func outcome(fin domain.Finish) (string, domain.Stage) {
	if fin.ErrText != "" {
		return "error", domain.StageError
	}
	return "ok", fin.Stage
}

// NewLedger returns a transactional PG ledger, or the in-memory one when db is nil
func NewLedger(db repokit.TxRunner, dbTimeout time.Duration) domain.Ledger {
	if db == nil {
		return NewMemory()
	}
	return &txLedger{
		db: repokit.WithBeginHooks(db, repokit.SetLocal("lock_timeout", "'5s'")),
		b:  NewPG(),
		to: dbTimeout,
	}
}

type txLedger struct {
	db repokit.TxRunner
	b  repokit.Binder[domain.Ledger]
	to time.Duration
}

func (l *txLedger) do(ctx context.Context, fn func(context.Context, domain.Ledger) error) error {
	if l.to > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.to)
		defer cancel()
	}
	return repokit.InTx(ctx, l.db, l.b, func(r domain.Ledger) error { return fn(ctx, r) })
}

func (l *txLedger) Start(ctx context.Context, runID string, k domain.Key, phase domain.Phase) error {
	return l.do(ctx, func(ctx context.Context, r domain.Ledger) error { return r.Start(ctx, runID, k, phase) })
}

func (l *txLedger) Finish(ctx context.Context, runID string, k domain.Key, phase domain.Phase, fin domain.Finish) error {
	return l.do(ctx, func(ctx context.Context, r domain.Ledger) error { return r.Finish(ctx, runID, k, phase, fin) })
}

func (l *txLedger) Get(ctx context.Context, k domain.Key) (run domain.Run, err error) {
	err = l.do(ctx, func(ctx context.Context, r domain.Ledger) error {
		run, err = r.Get(ctx, k)
		return err
	})
	return run, err
}

func (l *txLedger) List(ctx context.Context, version, epoch string) (runs []domain.Run, err error) {
	err = l.do(ctx, func(ctx context.Context, r domain.Ledger) error {
		runs, err = r.List(ctx, version, epoch)
		return err
	})
	return runs, err
}
