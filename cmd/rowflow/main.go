package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/adapter/jsonl"
	"github.com/rowflow/rowflow/pkg/config"
	"github.com/rowflow/rowflow/pkg/flow"
	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/logger"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/pipeline"
	"github.com/rowflow/rowflow/pkg/row"
)

var version = "0.1.0"

// readOptions holds the flags of the read command
type readOptions struct {
	ConfigFile string
	Output     string
	Select     []string
	Drop       []string
	Sort       []string
	GroupBy    []string
	Aggregate  []string
	Partitions []string
	Limit      int
	BatchSize  int
	LogLevel   string
	Timeout    time.Duration
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "rowflow",
		Short: "rowflow - batch streaming transformations over rows",
		Long: `rowflow reads rows in batches, runs them through a pipeline of transformations
and writes the result. Sorting and grouping spill to the configured cache when
the data does not fit in memory.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rowflow v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	opts := &readOptions{}
	readCmd := &cobra.Command{
		Use:   "read <path or glob>...",
		Short: "Read JSON lines files and write the transformed rows",
		Long: `Read JSON lines files, apply the requested transformations and write the
result as JSON lines. Hive style directories (country=PL) become partitions.

Example:
  rowflow read 'orders/*/*.jsonl' --partition country=PL --group-by customer --agg count:id:orders --sort 'orders desc'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), args, opts, cmd.OutOrStdout())
		},
	}

	flags := readCmd.Flags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "Path to a YAML configuration file (optional)")
	flags.StringVarP(&opts.Output, "output", "o", "", "Write to this file instead of stdout")
	flags.StringSliceVar(&opts.Select, "select", nil, "Entries to keep, in order")
	flags.StringSliceVar(&opts.Drop, "drop", nil, "Entries to remove")
	flags.StringArrayVar(&opts.Sort, "sort", nil, "Sort key as \"<entry> [asc|desc]\", repeatable")
	flags.StringSliceVar(&opts.GroupBy, "group-by", nil, "Entries to group by")
	flags.StringArrayVar(&opts.Aggregate, "agg", nil, "Aggregation as <kind>:<entry>[:<alias>], repeatable")
	flags.StringArrayVar(&opts.Partitions, "partition", nil, "Keep only partitions matching <name>=<value>, repeatable")
	flags.IntVar(&opts.Limit, "limit", 0, "Maximum number of rows to write, 0 writes all")
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "Rows per batch, overrides the configuration")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the configuration")
	flags.DurationVar(&opts.Timeout, "timeout", 30*time.Minute, "Pipeline timeout")

	root.AddCommand(readCmd)
	return root
}

func loadConfig(opts *readOptions) (*config.BaseConfig, error) {
	cfg := config.NewBaseConfig("rowflow-read")
	if opts.ConfigFile != "" {
		loaded, err := config.LoadBaseConfig(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
		cfg = loaded
	}
	if opts.BatchSize > 0 {
		cfg.Performance.BatchSize = opts.BatchSize
	}
	if opts.LogLevel != "" {
		cfg.Observability.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func runRead(ctx context.Context, paths []string, opts *readOptions, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "rowflow-cli"))

	f, err := flow.New(cfg, flow.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn("failed to close flow", zap.Error(err))
		}
	}()

	source, err := jsonl.NewSource(paths,
		jsonl.WithBatchSize(cfg.Performance.BatchSize),
		jsonl.WithLogger(log))
	if err != nil {
		return err
	}

	sink, err := newSink(opts.Output, stdout)
	if err != nil {
		return err
	}

	df, err := buildDataFrame(f.From(source).Named(cfg.Name), opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	log.Info("starting pipeline", zap.Strings("paths", paths), zap.Int("batch_size", cfg.Performance.BatchSize))
	start := time.Now()

	rows := 0
	counted := pipeline.Callback(func(_ context.Context, batch row.Rows) error {
		rows += batch.Len()
		return nil
	})
	if err := df.Write(sink).Write(counted).Run(ctx); err != nil {
		return fmt.Errorf("pipeline execution failed: %w", err)
	}

	duration := time.Since(start)
	log.Info("pipeline completed successfully",
		zap.Duration("duration", duration),
		zap.Int("rows", rows),
		zap.Float64("rows_per_second", float64(rows)/duration.Seconds()))
	return nil
}

func newSink(path string, stdout io.Writer) (*jsonl.Sink, error) {
	if path == "" {
		return jsonl.NewSink(stdout), nil
	}
	return jsonl.CreateSink(path)
}

// buildDataFrame applies the read flags in a fixed order: partition filters,
// grouping, projection, sorting and finally the limit.
func buildDataFrame(df *flow.DataFrame, opts *readOptions) (*flow.DataFrame, error) {
	for _, p := range opts.Partitions {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid partition filter %q, expected <name>=<value>", p)
		}
		df = df.FilterPartitions(partition.Equal(name, value))
	}

	if len(opts.GroupBy) > 0 || len(opts.Aggregate) > 0 {
		aggs, err := parseAggregations(opts.Aggregate)
		if err != nil {
			return nil, err
		}
		if len(opts.GroupBy) > 0 {
			df = df.GroupBy(opts.GroupBy...).Aggregate(aggs...)
		} else {
			df = df.Aggregate(aggs...)
		}
	}

	if len(opts.Select) > 0 {
		df = df.Select(opts.Select...)
	}
	if len(opts.Drop) > 0 {
		df = df.Drop(opts.Drop...)
	}

	if len(opts.Sort) > 0 {
		keys := make([]row.SortKey, len(opts.Sort))
		for i, s := range opts.Sort {
			k, err := row.ParseSortKey(s)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		df = df.SortBy(keys...)
	}

	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative: %d", opts.Limit)
	}
	if opts.Limit > 0 {
		df = df.Limit(opts.Limit)
	}
	return df, df.Err()
}

func parseAggregations(specs []string) ([]groupby.Aggregation, error) {
	aggs := make([]groupby.Aggregation, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid aggregation %q, expected <kind>:<entry>[:<alias>]", s)
		}
		agg, err := groupby.Parse(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		if len(parts) == 3 {
			agg = agg.As(parts[2])
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}
