// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// The pool hands out reusable byte slices for I/O copy loops, reducing GC
// pressure when many files are streamed concurrently. Three size tiers keep
// reuse high without pinning oversized buffers:
//   - Small buffers (default 4KB): metadata documents and small payloads
//   - Chunk buffers (default 256KB): HTTP streaming and driver copy loops
//   - Large buffers (default 1MB): upload spill buffering
//
// Buffers larger than the large tier are allocated directly and not pooled.
// All operations are safe for concurrent use via sync.Pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Default buffer size classes.
// These can be overridden when creating a custom pool with NewPool.
const (
	// DefaultSmallSize covers metadata documents and small files (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultChunkSize is the streaming chunk for file bodies (256KB)
	DefaultChunkSize = 256 << 10

	// DefaultLargeSize covers upload spill buffering (1MB)
	DefaultLargeSize = 1 << 20
)

// Pool manages a set of byte slice pools organized by size class.
// It selects the appropriate pool based on requested size and falls back to
// direct allocation for oversized requests.
type Pool struct {
	small     sync.Pool
	chunk     sync.Pool
	large     sync.Pool
	smallSize int
	chunkSize int
	largeSize int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// ChunkSize is the size of streaming chunk buffers (default: 256KB)
	ChunkSize int

	// LargeSize is the size of large buffers (default: 1MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize: DefaultSmallSize,
		ChunkSize: DefaultChunkSize,
		LargeSize: DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize: cfg.SmallSize,
		chunkSize: cfg.ChunkSize,
		largeSize: cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.chunk = sync.Pool{
		New: func() any {
			buf := make([]byte, p.chunkSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of at least the requested size.
// The returned slice may be larger than requested so pooled buffers are
// reused efficiently; the caller must call Put() when finished.
//
// For sizes larger than LargeSize, a new slice is allocated directly and
// will not be pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.chunkSize:
		bufPtr = p.chunk.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// GetChunk returns a full chunk-tier buffer for streaming copy loops.
func (p *Pool) GetChunk() []byte {
	return p.Get(p.chunkSize)
}

// Put returns a buffer to the pool for reuse.
// The buffer must have been obtained from Get() and must not be used after
// Put(). Buffers whose capacity does not match a pool tier are left for the
// garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.chunkSize:
		fullBuf := buf[:cap(buf)]
		p.chunk.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	}
}

// globalPool is the package-level buffer pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// GetChunk returns a streaming chunk buffer from the global pool.
func GetChunk() []byte {
	return globalPool.GetChunk()
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
