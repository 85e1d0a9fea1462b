//go:build !unix

package weights

import "fmt"

// mapping is unused on non-unix targets; mmap access mode is unavailable
// there and callers should fall back to AccessReadCache.
type mapping struct{}

func mapFile(path string) (*mapping, []byte, error) {
	return nil, nil, fmt.Errorf("mmap %s: access mode unavailable on this platform, use read-cache", path)
}

func (m *mapping) unmap() error { return nil }
