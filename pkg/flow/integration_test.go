package flow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rowflow/rowflow/pkg/adapter/jsonl"
	"github.com/rowflow/rowflow/pkg/config"
	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/testutil"
)

type FlowIntegrationSuite struct {
	testutil.IntegrationTestSuite
	flow *Flow
}

func TestFlowIntegrationSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(FlowIntegrationSuite))
}

func (s *FlowIntegrationSuite) SetupTest() {
	cfg := config.NewBaseConfig("integration")
	cfg.Sort.MemoryLimitMB = 0
	cfg.Sort.BucketSize = 64
	cfg.Cache.Type = config.CacheBolt
	cfg.Cache.Path = filepath.Join(s.T().TempDir(), "cache.db")

	f, err := New(cfg, WithLogger(testutil.TestLogger(s.T())))
	s.Require().NoError(err)
	s.flow = f
}

func (s *FlowIntegrationSuite) TearDownTest() {
	s.Require().NoError(s.flow.Close())
}

func (s *FlowIntegrationSuite) TestPartitionedFilesToJSONL() {
	pattern := testutil.CreateTestData(s.T(), filepath.Join(s.TempDir(), "orders"), 30, 4)
	source, err := jsonl.NewSource([]string{pattern}, jsonl.WithBatchSize(4))
	s.Require().NoError(err)

	out := filepath.Join(s.TempDir(), "out", "customers.jsonl")
	sink, err := jsonl.CreateSink(out)
	s.Require().NoError(err)

	err = s.flow.From(source).
		FilterPartitions(partition.Equal("country", "PL")).
		GroupBy("customer").Aggregate(groupby.Count("id").As("orders")).
		SortBy(row.Desc("orders"), row.Asc("customer")).
		Write(sink).
		Run(s.Context())
	s.Require().NoError(err)

	written, err := jsonl.NewSource([]string{out})
	s.Require().NoError(err)
	rows, err := s.flow.From(written).Fetch(s.Context(), 0)
	s.Require().NoError(err)

	testutil.RequireRows(s.T(), []map[string]interface{}{
		{"customer": "customer_0", "orders": int64(3)},
		{"customer": "customer_3", "orders": int64(3)},
		{"customer": "customer_1", "orders": int64(2)},
		{"customer": "customer_2", "orders": int64(2)},
	}, rows)
}

func (s *FlowIntegrationSuite) TestSpillingSortThroughput() {
	chunks, err := testutil.Orders(5000, 50).Chunks(500)
	s.Require().NoError(err)

	testutil.NewPerformanceTest(s.T(), "spilling sort").
		WithThroughputTarget(100).
		Run(func() int64 {
			rows, err := s.flow.Read(chunks...).SortBy(row.Desc("total")).Fetch(s.Context(), 0)
			require.NoError(s.T(), err)
			require.Equal(s.T(), 5000, rows.Len())

			first, err := rows.At(0).Get("id")
			require.NoError(s.T(), err)
			require.Equal(s.T(), int64(5000), first.Value())
			return int64(rows.Len())
		})
}
