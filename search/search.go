// Package search scans a target's memory. Word scans find instances of a
// class that has no static singleton and objects that hold a reference to
// a known address. Signature scans find code in the runtime module.
package search

import (
	"encoding/binary"
	"fmt"

	"monomem/mono"
	"monomem/process"
	"monomem/process/memory_map"
	"monomem/remote"
)

// Source is a target whose memory map can be walked.
type Source interface {
	process.Reader
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)
}

// Searcher holds configuration for a scan
type Searcher struct {
	ChunkSize  int
	Alignment  int
	MaxResults int
	MaxRegion  uint64

	// Filter drops regions from the scan; nil keeps readable, writable ones.
	Filter func(memory_map.MemoryMapItem) bool
}

// Option is a function that configures a Searcher
type Option func(*Searcher)

func WithChunkSize(size int) Option {
	return func(s *Searcher) {
		s.ChunkSize = size
	}
}

// WithAlignment only matches words at multiples of align. Managed objects
// are at least 8-byte aligned.
func WithAlignment(align int) Option {
	return func(s *Searcher) {
		s.Alignment = align
	}
}

func WithMaxResults(n int) Option {
	return func(s *Searcher) {
		s.MaxResults = n
	}
}

// WithMaxRegion skips regions larger than size bytes.
func WithMaxRegion(size uint64) Option {
	return func(s *Searcher) {
		s.MaxRegion = size
	}
}

func WithFilter(fn func(memory_map.MemoryMapItem) bool) Option {
	return func(s *Searcher) {
		s.Filter = fn
	}
}

func newSearcher(options ...Option) (*Searcher, error) {
	s := &Searcher{
		ChunkSize: 1 << 20, // Default
		Alignment: 8,       // Default
		MaxRegion: 1 << 30, // Default
	}
	for _, opt := range options {
		opt(s)
	}

	if s.Alignment < process.PointerSize || s.Alignment&(s.Alignment-1) != 0 {
		return nil, fmt.Errorf("alignment %d must be a power of two >= %d", s.Alignment, process.PointerSize)
	}
	if s.ChunkSize < s.Alignment || s.ChunkSize%s.Alignment != 0 {
		return nil, fmt.Errorf("chunk size %d must be a multiple of the alignment %d", s.ChunkSize, s.Alignment)
	}
	if s.Filter == nil {
		s.Filter = func(item memory_map.MemoryMapItem) bool {
			return item.IsReadable() && item.IsWritable()
		}
	}
	return s, nil
}

// Words returns every aligned address whose pointer-sized word equals value.
// Unreadable chunks are skipped; the map is a moving target.
func Words(src Source, value uint64, options ...Option) ([]process.ProcessMemoryAddress, error) {
	s, err := newSearcher(options...)
	if err != nil {
		return nil, err
	}

	regions, err := src.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("memory map: %w", err)
	}

	var results []process.ProcessMemoryAddress
	buf := make([]byte, s.ChunkSize)

	for _, region := range regions {
		if !s.Filter(region) || uint64(region.Size) > s.MaxRegion {
			continue
		}

		start := process.AlignUp(region.Address, uint64(s.Alignment))
		for chunk := start; chunk < region.End(); chunk += uint64(s.ChunkSize) {
			n := min(uint64(s.ChunkSize), region.End()-chunk)
			data := buf[:n]
			if err := src.ReadMemoryInto(process.ProcessMemoryAddress(chunk), data); err != nil {
				continue
			}

			for off := 0; off+process.PointerSize <= len(data); off += s.Alignment {
				if binary.LittleEndian.Uint64(data[off:]) != value {
					continue
				}
				results = append(results, process.ProcessMemoryAddress(chunk+uint64(off)))
				if s.MaxResults > 0 && len(results) >= s.MaxResults {
					return results, nil
				}
			}
		}
	}
	return results, nil
}

// References finds words pointing at target.
func References(src Source, target remote.Ptr[remote.Object], options ...Option) ([]process.ProcessMemoryAddress, error) {
	if target.IsNull() {
		return nil, fmt.Errorf("reference target: %w", remote.ErrNullPointer)
	}
	return Words(src, uint64(target.Addr()), options...)
}

// Instances returns candidate objects of class c: words equal to its
// header word that do not sit inside its own field table. A candidate may
// still be a stale object or an unrelated reference; validate what you read.
func Instances(src Source, c *mono.Class, options ...Option) ([]remote.Ptr[remote.Object], error) {
	header, err := c.HeaderWord(src)
	if err != nil {
		return nil, fmt.Errorf("instance header: %w", err)
	}

	words, err := Words(src, uint64(header.Addr()), options...)
	if err != nil {
		return nil, err
	}

	tableStart := c.FieldTable.Addr()
	tableEnd := tableStart + process.ProcessMemoryAddress(uint64(c.FieldCount)*uint64(c.FieldEntrySize()))

	out := make([]remote.Ptr[remote.Object], 0, len(words))
	for _, addr := range words {
		if addr >= tableStart && addr < tableEnd {
			continue
		}
		out = append(out, remote.NewPtr[remote.Object](addr))
	}
	return out, nil
}
