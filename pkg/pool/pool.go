// Package pool provides typed object pooling for rowflow.
//
// Readers and encoders on the hot path of an extraction (file sources,
// cache scans, the binary serializer) borrow their buffers from the global
// pools below instead of allocating one per file or per row.
//
// Example usage:
//
//	r := pool.GetReader(f)
//	defer pool.PutReader(r)
package pool

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset
// function. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool. reset, when not nil, is called before an
// object is returned to the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, creating one when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects created, currently checked out and
// the total number of Get calls. Reuse is gets minus allocated.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// maxPooledBuffer keeps one oversized object from pinning memory forever.
const maxPooledBuffer = 1 << 20

var (
	// Readers pools 64KiB buffered readers.
	Readers = New(
		func() *bufio.Reader { return bufio.NewReaderSize(nil, 64<<10) },
		func(r *bufio.Reader) { r.Reset(nil) },
	)

	// Buffers pools byte buffers.
	Buffers = New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)
)

// GetReader returns a pooled buffered reader reading from r.
func GetReader(r io.Reader) *bufio.Reader {
	br := Readers.Get()
	br.Reset(r)
	return br
}

// PutReader returns a reader obtained from GetReader.
func PutReader(r *bufio.Reader) {
	Readers.Put(r)
}

// GetBuffer returns an empty pooled buffer.
func GetBuffer() *bytes.Buffer {
	return Buffers.Get()
}

// PutBuffer returns a buffer obtained from GetBuffer. Buffers that grew past
// 1MiB are dropped.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		atomic.AddInt64(&Buffers.stats.inUse, -1)
		return
	}
	Buffers.Put(b)
}
