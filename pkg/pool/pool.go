// Package pool provides generic object pooling to avoid per-row and
// per-task allocation. Its one user in the pipeline is the page writer,
// which stages each UNICODE row in a buffer drawn from Global.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool wraps sync.Pool with a typed Get/Put and basic statistics.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a typed pool. new is called whenever the pool is empty;
// reset, if non-nil, is called on an object before it's returned to the
// pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object, allocating a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool, running the reset function first.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats reports allocation and in-use counts.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

// BufferPool pools byte slices in power-of-two size buckets, handing back
// the smallest bucket that satisfies a request.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool creates a buffer pool with buckets from 4KB to 16MB,
// covering the page writer's row-staging buffers.
func NewBufferPool() *BufferPool {
	sizes := []int{4096, 16384, 65536, 262144, 1048576, 4194304, 16777216}

	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() []byte { return make([]byte, size) },
			func(b []byte) {},
		)
	}

	return &BufferPool{pools: pools, sizes: sizes}
}

// Get returns a buffer of at least size bytes, sliced to exactly size.
// Requests larger than the biggest bucket allocate directly.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			return p.pools[i].Get()[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer to its matching bucket. Buffers whose capacity
// doesn't match a bucket exactly are left for garbage collection.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)
	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf[:size])
			return
		}
	}
}

// Global is the shared buffer pool used across Task executions within a
// single process.
var Global = NewBufferPool()
