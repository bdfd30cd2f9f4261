package results

import (
	"context"

	"metxy/internal/core/met"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/store"
)

// SnapshotTable is the ClickHouse table snapshots are appended to
const SnapshotTable = "xy_snapshots"

const snapshotDDL = `CREATE TABLE IF NOT EXISTS ` + SnapshotTable + ` (
	run_id     String,
	version    LowCardinality(String),
	epoch      LowCardinality(String),
	tag        LowCardinality(String),
	met        LowCardinality(String),
	file_index UInt32,
	met_x      Float64,
	met_y      Float64,
	pileup     Float64
) ENGINE = MergeTree
ORDER BY (version, epoch, tag, met, run_id, file_index)`

var snapshotColumns = []string{
	"run_id", "version", "epoch", "tag", "met", "file_index", "met_x", "met_y", "pileup",
}

// CHSnapshots appends snapshot points to ClickHouse in batches
type CHSnapshots struct {
	CH        store.Clickhouse
	BatchSize int
}

// NewCHSnapshots returns a sink; batch defaults to 50k rows
func NewCHSnapshots(ch store.Clickhouse, batch int) *CHSnapshots {
	if batch <= 0 {
		batch = 50_000
	}
	return &CHSnapshots{CH: ch, BatchSize: batch}
}

// EnsureTable creates the snapshot table when missing
func (c *CHSnapshots) EnsureTable(ctx context.Context) error {
	if err := c.CH.Exec(ctx, snapshotDDL); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "clickhouse snapshot table")
	}
	return nil
}

// Open implements Snapshotter. Points are buffered for the whole file and
// inserted on Close, so a retried file never leaves rows of an earlier attempt.
// Rows carry the run id so a rerun can be told apart from a partial earlier one.
func (c *CHSnapshots) Open(ctx context.Context, runID string, k Key, index int) (PointWriter, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return &chWriter{ctx: ctx, sink: c, runID: runID, key: k, index: uint32(index)}, nil
}

type chWriter struct {
	ctx   context.Context
	sink  *CHSnapshots
	runID string
	key   Key
	index uint32
	buf   [][]any
}

func (w *chWriter) Write(p met.Point) error {
	w.buf = append(w.buf, []any{
		w.runID, w.key.Version, w.key.Epoch, w.key.Tag, w.key.MET, w.index, p.X, p.Y, p.Pileup,
	})
	return nil
}

// Close inserts the buffer in BatchSize chunks. A failure before any chunk
// landed is Unavailable and safe to retry; after that the file is partially
// stored and the error is IO so the file is not read again.
func (w *chWriter) Close() error {
	rows := w.buf
	w.buf = nil
	for done := 0; done < len(rows); done += w.sink.BatchSize {
		end := min(done+w.sink.BatchSize, len(rows))
		if err := w.sink.CH.Insert(w.ctx, SnapshotTable, snapshotColumns, rows[done:end]); err != nil {
			code := perr.ErrorCodeUnavailable
			if done > 0 {
				code = perr.ErrorCodeIO
			}
			return perr.WithOp(perr.Wrapf(err, code, "clickhouse snapshot insert (%d of %d rows stored)", done, len(rows)), w.key.Op())
		}
	}
	return nil
}

func (w *chWriter) Abort() { w.buf = nil }
