// Package testutil provides testing utilities for rowflow
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rowflow/rowflow/pkg/row"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Orders returns n order rows: id, customer (customer_<id%customers>),
// country cycling through PL, US and DE, and a total of id*10 cents as float.
func Orders(n, customers int) row.Rows {
	countries := []string{"PL", "US", "DE"}
	out := make([]row.Row, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		out[i] = row.Must(
			row.Int("id", id),
			row.Str("customer", fmt.Sprintf("customer_%d", i%customers)),
			row.Str("country", countries[i%len(countries)]),
			row.Float("total", float64(id)/10),
		)
	}
	return row.NewRows(out...)
}

// RequireRows fails the test when the native form of actual differs from
// expected. The diff is printed with go-cmp.
func RequireRows(t *testing.T, expected []map[string]interface{}, actual row.Rows) {
	t.Helper()
	if diff := cmp.Diff(expected, actual.ToMaps()); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}
