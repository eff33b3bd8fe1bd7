// Package pipeline provides the execution engine for rowflow, pulling
// batches of rows from a Source and threading them through an ordered list
// of pipes.
//
// # Overview
//
// The pipeline package provides:
//   - Source, Transformer, Expander and Loader contracts
//   - A lazy, single-threaded executor with cooperative stop
//   - An optimizer that pushes limits and partition filters into sources
//   - Built-in pipes for projection, filtering, batching, joins, sorting
//     and aggregation
//
// # Architecture
//
// A pipeline consists of:
//   - Source: yields batches through an iter.Seq2, breaking the range loop
//     tells it to stop and release what it holds
//   - Pipes: Transformers return one batch, Expanders fan a batch out into
//     several, Loaders write a batch and pass it on unchanged
//   - Flushers: pipes that buffer rows (sort, group by, re-batching) emit
//     their output once the source is exhausted
//
// # Basic Usage
//
//	limit, _ := pipeline.Limit(100)
//	p, err := pipeline.New("orders", source,
//	    pipeline.WithPipes(
//	        pipeline.Filter(func(r row.Row) bool { return r.Has("id") }),
//	        pipeline.Select("id", "total"),
//	        limit,
//	        sink,
//	    ),
//	    pipeline.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Drain the pipeline
//	err = p.Run(ctx)
//
//	// Or consume batches lazily
//	for rows, err := range p.Process(ctx) {
//	    ...
//	}
//
// # Stopping
//
// A pipe stops the run by returning ErrStop, or an error created by
// LimitReached, together with its last output. The executor passes that
// output through the remaining pipes, stops pulling from the source,
// finalizes loaders and finishes without an error. Context cancellation
// aborts the run with an error instead.
//
// # Finalization
//
// Loaders implementing Finalizer are finalized exactly once per run. After
// a successful run every such loader is finalized, after an aborted run only
// the loaders that received at least one batch are.
package pipeline
