package pipeline

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Rule rewrites a plan before execution. Rules must not change the output
// of the pipeline.
type Rule interface {
	Name() string
	Apply(source Source, pipes []Pipe) (Source, []Pipe, bool)
}

// Optimizer applies rules once, in order.
type Optimizer struct {
	rules []Rule
}

// NewOptimizer creates an optimizer running rules in order.
func NewOptimizer(rules ...Rule) *Optimizer {
	return &Optimizer{rules: rules}
}

// DefaultOptimizer prunes partitions first so that a limit behind a
// partition filter can still reach the source.
func DefaultOptimizer() *Optimizer {
	return NewOptimizer(PartitionPruning{}, LimitPushdown{})
}

// Optimize returns the rewritten source and pipes. The input slice is not
// modified.
func (o *Optimizer) Optimize(source Source, pipes []Pipe, log *zap.Logger) (Source, []Pipe) {
	pipes = slices.Clone(pipes)
	for _, rule := range o.rules {
		var applied bool
		source, pipes, applied = rule.Apply(source, pipes)
		if applied {
			log.Debug("optimizer rule applied",
				zap.String("rule", rule.Name()),
				zap.String("source", fmt.Sprintf("%T", source)),
				zap.Int("pipes", len(pipes)))
		}
	}
	return source, pipes
}

// LimitPushdown moves a Limit into a LimitableSource when only
// count-preserving pipes stand in front of it.
type LimitPushdown struct{}

func (LimitPushdown) Name() string { return "limit_pushdown" }

func (LimitPushdown) Apply(source Source, pipes []Pipe) (Source, []Pipe, bool) {
	limitable, ok := source.(LimitableSource)
	if !ok {
		return source, pipes, false
	}
	for i, pipe := range pipes {
		if l, ok := pipe.(*LimitTransformer); ok {
			limitable.SetLimit(l.limit)
			return source, slices.Delete(pipes, i, i+1), true
		}
		if cp, ok := pipe.(CountPreserving); !ok || !cp.PreservesRowCount() {
			break
		}
	}
	return source, pipes, false
}

// PartitionPruning moves leading PartitionFilter pipes into a
// PartitionFilterableSource.
type PartitionPruning struct{}

func (PartitionPruning) Name() string { return "partition_pruning" }

func (PartitionPruning) Apply(source Source, pipes []Pipe) (Source, []Pipe, bool) {
	filterable, ok := source.(PartitionFilterableSource)
	if !ok {
		return source, pipes, false
	}
	n := 0
	for _, pipe := range pipes {
		f, ok := pipe.(*PartitionFilterTransformer)
		if !ok {
			break
		}
		filterable.AddPartitionFilter(f.filter)
		n++
	}
	return source, pipes[n:], n > 0
}
