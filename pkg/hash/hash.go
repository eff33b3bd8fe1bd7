// Package hash provides the pluggable algorithms used to bucket join and
// group-by keys.
package hash

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"

	"github.com/rowflow/rowflow/pkg/errors"
)

// Algorithm turns an encoded key into a short bucket identifier.
type Algorithm interface {
	Name() string
	Hash(data []byte) string
}

// XXHash is the default algorithm.
type XXHash struct{}

func (XXHash) Name() string { return "xxhash" }

func (XXHash) Hash(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Murmur3 hashes with the 128 bit murmur3 variant.
type Murmur3 struct{}

func (Murmur3) Name() string { return "murmur3" }

func (Murmur3) Hash(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Default returns the algorithm used when none is configured.
func Default() Algorithm { return XXHash{} }

// ByName resolves an algorithm from its configuration name.
func ByName(name string) (Algorithm, error) {
	switch name {
	case "", "xxhash":
		return XXHash{}, nil
	case "murmur3":
		return Murmur3{}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown hash algorithm %q", name).
		WithDetail("algorithm", name)
}

// String hashes s with alg.
func String(alg Algorithm, s string) string {
	return alg.Hash([]byte(s))
}
