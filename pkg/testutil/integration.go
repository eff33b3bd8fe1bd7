package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	rfjson "github.com/rowflow/rowflow/pkg/json"
	"github.com/rowflow/rowflow/pkg/row"
)

// IntegrationTestSuite provides base functionality for integration tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "rowflow-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile creates a file under the suite directory, creating parent
// directories as needed.
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.T(), os.WriteFile(path, content, 0o644))
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// WriteJSONL writes rows as JSON lines to path.
func WriteJSONL(t testing.TB, path string, rows row.Rows) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := rfjson.NewLineEncoder(f)
	for _, r := range rows.All() {
		require.NoError(t, enc.Encode(r.ToNative()))
	}
}

// CreateTestData writes Orders(total, customers) into one JSONL file per
// country under dir, using hive style country=<value> directories. It
// returns the glob matching every file.
func CreateTestData(t testing.TB, dir string, total, customers int) string {
	t.Helper()

	byCountry := map[string][]row.Row{}
	for _, r := range Orders(total, customers).All() {
		country, err := r.Get("country")
		require.NoError(t, err)
		byCountry[country.String()] = append(byCountry[country.String()], r)
	}
	for country, rows := range byCountry {
		path := filepath.Join(dir, "country="+country, "part-0.jsonl")
		WriteJSONL(t, path, row.NewRows(rows...))
	}
	return filepath.Join(dir, "country=*", "*.jsonl")
}

// PerformanceTest provides utilities for performance testing
type PerformanceTest struct {
	t         *testing.T
	name      string
	threshold struct {
		minThroughput float64 // rows/sec
		maxMemory     int64   // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(rowsPerSec float64) *PerformanceTest {
	p.threshold.minThroughput = rowsPerSec
	return p
}

// WithMemoryTarget sets maximum memory usage
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn, which returns the number of rows it processed, and checks
// the configured thresholds.
func (p *PerformanceTest) Run(fn func() int64) {
	p.t.Helper()

	initial := CaptureMemoryProfile()
	start := time.Now()
	rows := fn()
	duration := time.Since(start)
	final := CaptureMemoryProfile()

	throughput := float64(rows) / duration.Seconds()
	var memoryUsed int64
	if final.TotalAlloc > initial.TotalAlloc {
		memoryUsed = int64(final.TotalAlloc - initial.TotalAlloc)
	}

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Rows: %d", rows)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f rows/sec", throughput)
	p.t.Logf("  Allocated: %s", formatBytes(memoryUsed))

	if p.threshold.minThroughput > 0 && throughput < p.threshold.minThroughput {
		p.t.Errorf("Throughput %.0f rows/sec below target %.0f rows/sec",
			throughput, p.threshold.minThroughput)
	}

	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Memory usage %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	AllocBytes uint64
	TotalAlloc uint64
	HeapInuse  uint64
}

// CaptureMemoryProfile captures current memory profile
func CaptureMemoryProfile() *MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		AllocBytes: m.Alloc,
		TotalAlloc: m.TotalAlloc,
		HeapInuse:  m.HeapInuse,
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
