// Package rowflow provides batch streaming transformations over typed rows.
//
// Data is extracted from a source in batches of rows, threaded through a
// pipeline of transformers and loaders and finalized once at the end. Only
// a bounded amount of data is held in memory at a time: sorting spills to a
// cache and merges buckets back, joins keep only the right side in memory.
//
// # Architecture
//
//   - pkg/row: entries, rows and batches with their type system (pkg/types)
//     and schemas (pkg/schema)
//   - pkg/pipeline: the executor, its optimizer and the built-in pipes
//   - pkg/join, pkg/extsort, pkg/groupby: the stateful operators
//   - pkg/cache, pkg/serializer, pkg/compression: spill storage
//   - pkg/flow: the DataFrame builder that wires everything from a config
//   - pkg/adapter: memory and JSON lines sources and sinks
//
// # Quick Start
//
// Group JSON lines files by a column and print the result:
//
//	src, err := jsonl.NewSource([]string{"orders/*.jsonl"})
//	if err != nil {
//	    return err
//	}
//	rows, err := flow.From(src).
//	    GroupBy("country").Aggregate(groupby.Sum("total")).
//	    SortBy(row.Desc("total_sum")).
//	    Fetch(ctx, 10)
//
// # Configuration
//
// config.BaseConfig controls batch sizes, sort memory, the spill cache and
// join hashing. It can be loaded from YAML with environment variable
// substitution, see config.LoadBaseConfig. The rowflow command exposes the
// same pipeline from the shell.
package rowflow
