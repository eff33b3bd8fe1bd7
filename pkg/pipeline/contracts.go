package pipeline

import (
	"context"
	"iter"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
)

// Source produces batches. Breaking out of the returned sequence is the
// stop signal: the source must not produce another batch and must release
// any resource it holds.
type Source interface {
	Extract(ctx context.Context) iter.Seq2[row.Rows, error]
}

// LimitableSource stops by itself after n rows.
type LimitableSource interface {
	Source
	SetLimit(n int)
}

// PartitionFilterableSource skips partitions rejected by a filter before
// reading them.
type PartitionFilterableSource interface {
	Source
	AddPartitionFilter(f partition.Filter)
}

// Transformer maps one batch to one batch.
type Transformer interface {
	Transform(ctx context.Context, rows row.Rows) (row.Rows, error)
}

// Expander maps one batch to any number of batches.
type Expander interface {
	Expand(ctx context.Context, rows row.Rows) ([]row.Rows, error)
}

// Loader writes a batch. Loaders pass their input on unchanged.
type Loader interface {
	Load(ctx context.Context, rows row.Rows) error
}

// Finalizer is implemented by loaders that need to commit or close once the
// run is over.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// Flusher is implemented by pipes that hold rows back. Flush is called once
// after the source is exhausted and its output continues down the pipeline.
type Flusher interface {
	Flush(ctx context.Context) iter.Seq2[row.Rows, error]
}

// Discarder is implemented by pipes that keep state outside the process,
// such as spilled sort buckets. Discard is called once when a run ends,
// whether it succeeded, stopped early or failed before the pipe was flushed.
type Discarder interface {
	Discard(ctx context.Context) error
}

// CountPreserving is implemented by pipes that never add or remove rows and
// never fail. The optimizer may move a limit across them, so a pipe that can
// reject a row past the limit must report false.
type CountPreserving interface {
	PreservesRowCount() bool
}

// Pipe is a Transformer, an Expander or a Loader.
type Pipe interface{}

// ErrStop is returned by a pipe, together with its last output, to end the
// run early without failing it.
var ErrStop = errors.New(errors.ErrorTypeLimitReached, "pipeline stop requested")

// LimitReached creates the stop signal raised once limit rows were seen.
func LimitReached(limit int) error {
	return errors.Newf(errors.ErrorTypeLimitReached, "limit of %d rows reached", limit).
		WithDetail("limit", limit)
}

// IsStop reports whether err asks the executor to stop.
func IsStop(err error) bool {
	return errors.Is(err, ErrStop) || errors.IsType(err, errors.ErrorTypeLimitReached)
}

func validPipe(p Pipe) bool {
	switch p.(type) {
	case Transformer, Expander, Loader:
		return true
	}
	return false
}
