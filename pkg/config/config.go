// Package config provides the configuration system for rowflow.
// A single BaseConfig structure drives every engine component so that the
// CLI, tests and embedding applications configure pipelines the same way.
//
// The configuration is organized into logical sections:
//   - Performance: batch sizes and memory limits
//   - Sort: external sort memory budget and bucket size
//   - Cache: spill storage backend and its compression
//   - Join: hash algorithm and merged-row prefix
//   - Observability: metrics and logging
//
// Example usage:
//
//	cfg := config.NewBaseConfig("orders")
//	cfg.Performance.BatchSize = 5000
//	cfg.Cache.Type = config.CacheBolt
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cache backends understood by the cache factory.
const (
	CacheMemory     = "memory"
	CacheFilesystem = "filesystem"
	CacheBolt       = "bolt"
)

// Join hash algorithms.
const (
	HashXXHash  = "xxhash"
	HashMurmur3 = "murmur3"
)

// BaseConfig is the configuration structure shared by every rowflow component.
type BaseConfig struct {
	// Name identifies the pipeline in logs and metrics
	Name string `yaml:"name" json:"name"`

	// Performance settings control batch sizes and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Sort settings for the external sort
	Sort SortConfig `yaml:"sort" json:"sort"`

	// Cache selects where spilled and cached rows are stored
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Join settings for hash joins
	Join JoinConfig `yaml:"join" json:"join"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig contains throughput related settings.
type PerformanceConfig struct {
	// BatchSize is the number of rows emitted per batch by blocking operators
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MemoryLimitMB caps the memory a single blocking operator may buffer
	MemoryLimitMB int `yaml:"memory_limit_mb" json:"memory_limit_mb"`
}

// SortConfig contains external sort settings.
type SortConfig struct {
	// MemoryLimitMB is the in-memory sort budget; exceeding it spills to the cache
	MemoryLimitMB int `yaml:"memory_limit_mb" json:"memory_limit_mb"`
	// BucketSize is the number of rows sorted per spilled bucket
	BucketSize int `yaml:"bucket_size" json:"bucket_size"`
	// AutoMemoryLimit derives the budget from available system memory
	AutoMemoryLimit bool `yaml:"auto_memory_limit" json:"auto_memory_limit"`
}

// CacheConfig contains spill cache settings.
type CacheConfig struct {
	// Type selects the backend (memory, filesystem, bolt)
	Type string `yaml:"type" json:"type"`
	// Path is the directory (filesystem) or file (bolt) used by the backend
	Path string `yaml:"path" json:"path"`
	// Compression selects the codec applied to serialized batches (none, snappy, s2, zstd, lz4, gzip)
	Compression string `yaml:"compression" json:"compression"`
}

// JoinConfig contains hash join settings.
type JoinConfig struct {
	// HashAlgorithm selects the join key hash (xxhash, murmur3)
	HashAlgorithm string `yaml:"hash_algorithm" json:"hash_algorithm"`
	// Prefix is prepended to build-side entry names in merged rows
	Prefix string `yaml:"prefix" json:"prefix"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics activates Prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
//
// Example:
//
//	cfg := config.NewBaseConfig("orders")
//	cfg.Sort.BucketSize = 50_000 // Override default
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name: name,
		Performance: PerformanceConfig{
			BatchSize:     1000,
			MemoryLimitMB: 1024,
		},
		Sort: SortConfig{
			MemoryLimitMB: 256,
			BucketSize:    100,
		},
		Cache: CacheConfig{
			Type:        CacheMemory,
			Path:        filepath.Join(os.TempDir(), "rowflow"),
			Compression: "snappy",
		},
		Join: JoinConfig{
			HashAlgorithm: HashXXHash,
			Prefix:        "joined_",
		},
		Observability: ObservabilityConfig{
			EnableMetrics: false,
			LogLevel:      "info",
			LogEncoding:   "json",
		},
	}
}

// Validate validates the configuration for correctness.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Performance.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if bc.Performance.MemoryLimitMB < 0 {
		return fmt.Errorf("memory_limit_mb cannot be negative")
	}
	if bc.Sort.MemoryLimitMB < 0 {
		return fmt.Errorf("sort.memory_limit_mb cannot be negative")
	}
	if bc.Sort.BucketSize <= 0 {
		return fmt.Errorf("sort.bucket_size must be positive")
	}
	switch bc.Cache.Type {
	case CacheMemory:
	case CacheFilesystem, CacheBolt:
		if bc.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for %s cache", bc.Cache.Type)
		}
	default:
		return fmt.Errorf("unsupported cache type: %q", bc.Cache.Type)
	}
	switch bc.Join.HashAlgorithm {
	case HashXXHash, HashMurmur3:
	default:
		return fmt.Errorf("unsupported hash algorithm: %q", bc.Join.HashAlgorithm)
	}
	return nil
}

// SortMemoryLimitBytes returns the sort budget in bytes.
func (s *SortConfig) SortMemoryLimitBytes() int64 {
	return int64(s.MemoryLimitMB) * 1024 * 1024
}

// IsCompressionEnabled returns true if cached batches should be compressed
func (c *CacheConfig) IsCompressionEnabled() bool {
	return c.Compression != "" && c.Compression != "none"
}
