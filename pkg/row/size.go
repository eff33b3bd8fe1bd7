package row

import (
	"time"
	"unsafe"

	"github.com/google/uuid"
)

const (
	rowOverhead   = int64(unsafe.Sizeof(Row{})) + 48
	entryOverhead = int64(unsafe.Sizeof(Entry{}))
)

// EstimateSize approximates the heap footprint of a batch in bytes. It is
// used to decide when buffered rows exceed a memory budget, so it favours
// speed over accuracy.
func EstimateSize(rs Rows) int64 {
	var size int64
	for _, r := range rs.rows {
		size += EstimateRowSize(r)
	}
	return size
}

// EstimateRowSize approximates the heap footprint of one row.
func EstimateRowSize(r Row) int64 {
	size := rowOverhead
	for _, e := range r.entries {
		size += entryOverhead + int64(len(e.name)) + estimateValue(e.val)
	}
	return size
}

func estimateValue(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 8
	case bool:
		return 1
	case string:
		return int64(len(t)) + 16
	case time.Time:
		return int64(unsafe.Sizeof(t))
	case uuid.UUID:
		return int64(len(t))
	case []interface{}:
		size := int64(24)
		for _, el := range t {
			size += 16 + estimateValue(el)
		}
		return size
	case map[string]interface{}:
		size := int64(48)
		for k, el := range t {
			size += int64(len(k)) + 32 + estimateValue(el)
		}
		return size
	case map[int64]interface{}:
		size := int64(48)
		for _, el := range t {
			size += 24 + estimateValue(el)
		}
		return size
	}
	return 64
}
