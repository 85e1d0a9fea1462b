// Package weights implements the weight cache: a resolve(pointer, size) ->
// span operation that is zero-copy under mmap or a caller-supplied base
// address, and budget-evicting read-on-demand otherwise.
package weights

import (
	"fmt"
	"os"
	"sync"

	"github.com/tejas242/vellum/internal/vellumerr"
)

// AccessMode selects how the Source turns file offsets into byte spans.
type AccessMode int

const (
	// AccessMMap memory-maps the checkpoint file; Resolve returns a
	// sub-slice of the mapping with no lock and no copy.
	AccessMMap AccessMode = iota
	// AccessAddress treats a caller-supplied in-memory byte slice as the
	// entire checkpoint; behaves identically to AccessMMap but the bytes
	// were never a file.
	AccessAddress
	// AccessReadCache reads the checkpoint with pread, caching recently
	// used spans under a byte budget, evicting the least recently used
	// span first.
	AccessReadCache
)

// Stats are cache statistics, meaningful only in AccessReadCache mode.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	LiveBytes int64
}

// entry is one cached, pread-backed span. Entries form a doubly-linked
// list: new entries are linked at the head; eviction walks from the tail.
type entry struct {
	offset   int64
	length   int64
	bytes    []byte
	refcount uint64
	prev     *entry // toward the tail (older)
	next     *entry // toward the head (newer)
}

// Source owns the checkpoint's backing storage and serves resolve() calls.
// It is safe for concurrent use: AccessMMap/AccessAddress need no lock
// (the model is immutable after construction); AccessReadCache serializes
// all lookup/evict/allocate/pread work behind a single mutex.
type Source struct {
	mode AccessMode

	// AccessMMap / AccessAddress: the whole checkpoint, addressable
	// directly. For AccessMMap this is backed by a real mmap on unix and
	// released by Close; for AccessAddress it is whatever the caller gave
	// us and Close is a no-op.
	base []byte
	mmap *mapping // nil unless mode == AccessMMap

	// AccessReadCache only.
	file       *os.File
	cacheLimit int64

	mu         sync.Mutex
	head, tail *entry
	liveBytes  int64
	stats      Stats
}

// NewMMap memory-maps path and returns a Source serving spans directly out
// of the mapping.
func NewMMap(path string) (*Source, error) {
	m, base, err := mapFile(path)
	if err != nil {
		return nil, vellumerr.New(vellumerr.IOFailure, "weights.NewMMap", err)
	}
	return &Source{mode: AccessMMap, base: base, mmap: m}, nil
}

// NewAddress wraps an in-memory checkpoint image the caller already holds.
// The slice must outlive the Source; Close is a no-op.
func NewAddress(base []byte) *Source {
	return &Source{mode: AccessAddress, base: base}
}

// NewReadCache opens path for pread-based resolution with cacheLimit bytes
// of budget for cached spans.
func NewReadCache(path string, cacheLimit int64) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vellumerr.New(vellumerr.IOFailure, "weights.NewReadCache", err)
	}
	if cacheLimit <= 0 {
		cacheLimit = 64 << 20
	}
	return &Source{mode: AccessReadCache, file: f, cacheLimit: cacheLimit}, nil
}

// Mode reports the access mode this Source was built with.
func (s *Source) Mode() AccessMode { return s.mode }

// Stats returns a snapshot of cache statistics (zero value outside
// AccessReadCache mode).
func (s *Source) Stats() Stats {
	if s.mode != AccessReadCache {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.LiveBytes = s.liveBytes
	return st
}

// Resolve returns the byte span [offset, offset+size). In AccessMMap and
// AccessAddress mode this is the underlying bytes with no copy and no lock,
// exactly the "const float*" contract the forward engine expects. In
// AccessReadCache mode it is served from the entry list, pread'ing and
// evicting as needed under a single mutex.
func (s *Source) Resolve(offset, size int64) ([]byte, error) {
	if size < 0 || offset < 0 {
		return nil, vellumerr.New(vellumerr.RuntimeTransient, "weights.Source.Resolve",
			fmt.Errorf("negative offset/size (%d, %d)", offset, size))
	}
	switch s.mode {
	case AccessMMap, AccessAddress:
		if offset+size > int64(len(s.base)) {
			return nil, vellumerr.New(vellumerr.RuntimeTransient, "weights.Source.Resolve",
				fmt.Errorf("span [%d,%d) out of range (base=%d)", offset, offset+size, len(s.base)))
		}
		return s.base[offset : offset+size], nil
	case AccessReadCache:
		return s.resolveCached(offset, size)
	default:
		return nil, vellumerr.New(vellumerr.ConfigInvalid, "weights.Source.Resolve",
			fmt.Errorf("unknown access mode %d", s.mode))
	}
}

func (s *Source) resolveCached(offset, size int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e := s.head; e != nil; e = e.next {
		if e.offset == offset && e.length == size {
			e.refcount++
			s.stats.Hits++
			s.touch(e)
			return e.bytes, nil
		}
	}
	s.stats.Misses++

	for s.liveBytes+size > s.cacheLimit && s.tail != nil {
		s.evictTail()
	}

	buf := make([]byte, size)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, vellumerr.New(vellumerr.RuntimeTransient, "weights.Source.Resolve",
			fmt.Errorf("pread offset=%d size=%d: %w", offset, size, err))
	}

	e := &entry{offset: offset, length: size, bytes: buf, refcount: 1}
	s.linkHead(e)
	s.liveBytes += size
	return buf, nil
}

// touch moves e to the head of the list (most-recently-used-first).
// Eviction below does not consult refcount at all — only the physical
// list order decides who is "oldest".
func (s *Source) touch(e *entry) {
	if e == s.head {
		return
	}
	s.unlink(e)
	s.linkHead(e)
}

func (s *Source) linkHead(e *entry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *Source) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (s *Source) evictTail() {
	e := s.tail
	s.unlink(e)
	s.liveBytes -= e.length
	s.stats.Evictions++
}

// Close releases the Source's backing storage.
func (s *Source) Close() error {
	switch s.mode {
	case AccessMMap:
		return s.mmap.unmap()
	case AccessReadCache:
		return s.file.Close()
	default:
		return nil
	}
}
