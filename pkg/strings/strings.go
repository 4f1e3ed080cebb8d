// Package strings provides zero-copy string utilities and a pooled,
// geometrically-growing byte builder, used as the CSV tokenizer's reusable
// field buffer (§4.C/§9). The page writer's staging buffer comes from
// pkg/pool, not from this package.
package strings

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unsafe"
)

// BytesToString converts a byte slice to a string without allocating.
// The returned string shares memory with b; do not mutate b afterward.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}

// StringToBytes converts a string to a byte slice without allocating.
// The returned slice shares memory with s; do not mutate it.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	sh := (*reflect.StringHeader)(unsafe.Pointer(&s))
	bh := reflect.SliceHeader{Data: sh.Data, Len: sh.Len, Cap: sh.Len}
	return *(*[]byte)(unsafe.Pointer(&bh))
}

// Builder is a growable byte buffer with a hard ceiling, used as the CSV
// tokenizer's field buffer: grown geometrically on demand, never shrunk
// within a task, never allocated per-row.
type Builder struct {
	buf []byte
	max int // 0 means unbounded
}

// NewBuilder creates a builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// SetMax sets the builder's hard ceiling without reallocating, used to turn
// a pooled, tier-sized Builder into a bounded one at the call site.
func (b *Builder) SetMax(maxBytes int) { b.max = maxBytes }

// WriteString appends a string.
func (b *Builder) WriteString(s string) { b.buf = append(b.buf, StringToBytes(s)...) }

// WriteByte appends a single byte.
func (b *Builder) WriteByte(c byte) error { b.buf = append(b.buf, c); return nil }

// WriteRune appends a rune encoded as UTF-8.
func (b *Builder) WriteRune(r rune) { b.buf = append(b.buf, []byte(string(r))...) }

// String returns a zero-copy view of the buffer contents.
func (b *Builder) String() string { return BytesToString(b.buf) }

// Bytes returns the underlying buffer.
func (b *Builder) Bytes() []byte { return b.buf }

// Len returns the number of bytes written.
func (b *Builder) Len() int { return len(b.buf) }

// Cap returns the current capacity.
func (b *Builder) Cap() int { return cap(b.buf) }

// Reset empties the buffer without releasing its backing array.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// MaxBytes reports the configured hard ceiling, or 0 if unbounded.
func (b *Builder) MaxBytes() int { return b.max }

// WillExceedMax reports whether appending n more bytes would exceed the
// builder's configured ceiling.
func (b *Builder) WillExceedMax(n int) bool {
	return b.max > 0 && len(b.buf)+n > b.max
}

// Grow doubles the backing array until it has room for n more bytes,
// matching the "doubled on demand" growth rule for CSV field buffers.
func (b *Builder) Grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = 64
	}
	for newCap-len(b.buf) < n {
		newCap *= 2
	}
	grown := make([]byte, len(b.buf), newCap)
	copy(grown, b.buf)
	b.buf = grown
}

// Intern deduplicates repeated strings to reduce allocation pressure; the
// planner interns its final column names through it.
type Intern struct {
	mu      sync.Mutex
	strings map[string]string
}

// NewIntern creates an empty interner.
func NewIntern() *Intern {
	return &Intern{strings: make(map[string]string)}
}

// Get returns the canonical, interned copy of s.
func (in *Intern) Get(s string) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.strings[s]; ok {
		return existing
	}
	cloned := strings.Clone(s)
	in.strings[cloned] = cloned
	return cloned
}

// Size reports how many distinct strings have been interned.
func (in *Intern) Size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.strings)
}

// Sprintf is a thin fmt.Sprintf wrapper kept as the single formatting
// entrypoint so call sites read uniformly across the codebase.
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// pooled builder tiers, reused across Task invocations. The tokenizer draws
// its field buffer from the Small tier; nothing in the pipeline uses Large.
var (
	smallBuilderPool = &sync.Pool{New: func() interface{} { return NewBuilder(4096) }}
	largeBuilderPool = &sync.Pool{New: func() interface{} { return NewBuilder(64 * 1024) }}
)

// BuilderSize selects which pooled tier GetBuilder draws from.
type BuilderSize int

const (
	Small BuilderSize = iota
	Large
)

// GetBuilder retrieves a reset builder from the given tier's pool.
func GetBuilder(size BuilderSize) *Builder {
	pool := smallBuilderPool
	if size == Large {
		pool = largeBuilderPool
	}
	b := pool.Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns a builder to its tier's pool.
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	pool := smallBuilderPool
	if size == Large {
		pool = largeBuilderPool
	}
	builder.Reset()
	pool.Put(builder)
}
