package extsort

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rowflow/rowflow/pkg/errors"
)

// AutoMemoryLimit returns fraction of the currently available system memory,
// used when the sort budget is derived from the host instead of configured.
func AutoMemoryLimit(fraction float64) (int64, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, errors.Newf(errors.ErrorTypeInvalidArgument,
			"memory fraction must be in (0, 1], got %v", fraction)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to read system memory")
	}
	return int64(float64(vm.Available) * fraction), nil
}
