// Package partition models the provenance of a batch, for example the
// "date=2024-01-01/country=PL" segments of a file path, and the filters
// used to skip whole partitions before their rows are read.
package partition

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/rowflow/rowflow/pkg/errors"
)

// Partition is an immutable name/value pair.
type Partition struct {
	Name  string
	Value string
}

var (
	nameRe    = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)
	segmentRe = regexp.MustCompile(`^([^=/]+)=([^=/]*)$`)
)

// New validates and creates a partition.
func New(name, value string) (Partition, error) {
	if name == "" || !nameRe.MatchString(name) {
		return Partition{}, errors.Newf(errors.ErrorTypeInvalidArgument,
			"invalid partition name %q", name)
	}
	if value == "" {
		return Partition{}, errors.Newf(errors.ErrorTypeInvalidArgument,
			"partition %q requires a non empty value", name)
	}
	return Partition{Name: name, Value: value}, nil
}

// String renders the partition as a path segment.
func (p Partition) String() string {
	return p.Name + "=" + url.PathEscape(p.Value)
}

// Partitions is an ordered list of partitions describing one batch.
type Partitions []Partition

// FromPath extracts every name=value segment of a slash separated path,
// in path order. Segments without "=" are ignored.
func FromPath(path string) Partitions {
	var out Partitions
	for _, segment := range strings.Split(path, "/") {
		m := segmentRe.FindStringSubmatch(segment)
		if m == nil || m[2] == "" {
			continue
		}
		value, err := url.PathUnescape(m[2])
		if err != nil {
			value = m[2]
		}
		out = append(out, Partition{Name: m[1], Value: value})
	}
	return out
}

// Has reports whether a partition with name exists.
func (ps Partitions) Has(name string) bool {
	_, ok := ps.Get(name)
	return ok
}

// Get returns the partition with name.
func (ps Partitions) Get(name string) (Partition, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// Names returns partition names in order.
func (ps Partitions) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Path renders the partitions as a relative path, e.g. "year=2024/month=01".
func (ps Partitions) Path() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, "/")
}

// ID identifies the partition combination; it is stable for equal partitions.
func (ps Partitions) ID() string {
	return ps.Path()
}

// Equal compares partitions in order.
func (ps Partitions) Equal(o Partitions) bool {
	return slices.Equal(ps, o)
}
