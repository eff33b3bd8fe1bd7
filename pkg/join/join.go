// Package join implements hash joins between two streams of batches.
//
// The build side is consumed completely into a HashTable bucketed by the
// hash of its equality keys. The other side is then streamed one batch at a
// time: each stream row is hashed the same way and matched against the rows
// of its bucket with the expression's comparison. Output follows stream
// arrival order and, within a bucket, build insertion order.
package join

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/row"
)

// Type selects which rows a join emits.
type Type string

const (
	Inner    Type = "inner"
	Left     Type = "left"
	Right    Type = "right"
	LeftAnti Type = "left_anti"
)

// ParseType resolves a join type by name.
func ParseType(name string) (Type, error) {
	switch t := Type(name); t {
	case Inner, Left, Right, LeftAnti:
		return t, nil
	}
	return "", errors.Newf(errors.ErrorTypeInvalidArgument, "unknown join type %q", name).
		WithDetail("type", name)
}

// Option configures a HashJoin.
type Option func(*HashJoin)

// WithHashAlgorithm replaces the default xxhash key hashing.
func WithHashAlgorithm(alg hash.Algorithm) Option {
	return func(j *HashJoin) { j.alg = alg }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(j *HashJoin) { j.logger = log }
}

// HashJoin joins stream batches against a build side held in memory.
type HashJoin struct {
	expr       Expression
	typ        Type
	alg        hash.Algorithm
	logger     *zap.Logger
	table      *HashTable
	streamKeys []string
	stream     columns
	finished   bool
}

// New creates a join. The build side must be loaded with Build or
// BuildFrom before matching.
func New(expr Expression, typ Type, opts ...Option) (*HashJoin, error) {
	if expr.Comparison == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "join expression requires a comparison")
	}
	if _, err := ParseType(string(typ)); err != nil {
		return nil, err
	}
	j := &HashJoin{expr: expr, typ: typ, alg: hash.Default(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(j)
	}
	streamKeys, buildKeys := expr.Keys()
	j.streamKeys = streamKeys
	j.table = NewHashTable(j.alg, buildKeys...)
	return j, nil
}

// Type returns the join type.
func (j *HashJoin) Type() Type { return j.typ }

// Build adds a batch to the build side.
func (j *HashJoin) Build(rows row.Rows) {
	j.table.Add(rows)
}

// BuildFrom drains a batch sequence into the build side.
func (j *HashJoin) BuildFrom(ctx context.Context, batches iter.Seq2[row.Rows, error]) error {
	for rows, err := range batches {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		j.Build(rows)
	}
	j.logger.Debug("join build side loaded",
		zap.String("type", string(j.typ)),
		zap.Int("rows", j.table.Len()),
		zap.Stringer("expression", j.expr.Comparison))
	return nil
}

// Match joins one stream batch. Left-anti joins emit nothing here; their
// output, like the unmatched build rows of right joins, comes from Finish.
func (j *HashJoin) Match(rows row.Rows) (row.Rows, error) {
	if j.finished {
		return row.Rows{}, errors.New(errors.ErrorTypeInvalidLogic, "join already finished")
	}
	var out []row.Row
	for _, p := range rows.All() {
		j.stream.observe(p)
		matched := 0
		if b, ok := j.table.Bucket(j.table.Hash(p, j.streamKeys)); ok {
			for _, br := range b.rows {
				if !j.expr.Comparison.Matches(p, br.row) {
					continue
				}
				matched++
				br.matches++
				if j.typ == LeftAnti {
					continue
				}
				merged, err := j.merge(p, br.row)
				if err != nil {
					return row.Rows{}, err
				}
				out = append(out, merged)
			}
		}
		if matched == 0 && j.typ == Left {
			merged, err := j.merge(p, j.table.columns.nulls())
			if err != nil {
				return row.Rows{}, err
			}
			out = append(out, merged)
		}
	}
	return row.NewRows(out...).WithPartitions(rows.Partitions()...), nil
}

// Finish returns the trailing output once the stream side is exhausted:
// unmatched build rows for left-anti joins, and unmatched build rows merged
// with null stream entries for right joins.
func (j *HashJoin) Finish() (row.Rows, error) {
	j.finished = true
	switch j.typ {
	case LeftAnti:
		return row.NewRows(j.table.Unmatched()...), nil
	case Right:
		unmatched := j.table.Unmatched()
		out := make([]row.Row, len(unmatched))
		nulls := j.stream.nulls()
		for i, b := range unmatched {
			merged, err := j.merge(nulls, b)
			if err != nil {
				return row.Rows{}, err
			}
			out[i] = merged
		}
		return row.NewRows(out...), nil
	}
	return row.NewRows(), nil
}

func (j *HashJoin) merge(stream, build row.Row) (row.Row, error) {
	merged, err := stream.Merge(build, j.expr.Prefix)
	if err != nil {
		return row.Row{}, errors.Wrap(err, errors.ErrorTypeInvalidArgument,
			"joined rows share entry names, use a different join prefix").
			WithDetail("prefix", j.expr.Prefix)
	}
	return merged, nil
}
