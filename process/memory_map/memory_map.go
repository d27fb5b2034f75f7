package memory_map

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string // Backing file, empty for anonymous mappings
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	if mmItem.Path != "" {
		return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
	}
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s", mmItem.Address, mmItem.Size, mmItem.Perms)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return len(mmItem.Perms) > 1 && mmItem.Perms[1] == 'w'
}

// MemoryMap defines the interface for operations related to a process's memory map
type MemoryMap interface {
	// ReadMemoryMap reads and parses the memory map for a process
	ReadMemoryMap(pid int) ([]MemoryMapItem, error)

	// IsReadablePerms checks if a memory region has read permissions
	IsReadablePerms(perms string) bool

	// IsWritablePerms checks if a memory region has write permissions
	IsWritablePerms(perms string) bool

	// IsExecutablePerms checks if a memory region has execute permissions
	IsExecutablePerms(perms string) bool
}

// Sort orders the map by start address; FindRegion requires it.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// FindRegion returns the region containing addr using binary search.
// memoryMap must be sorted by address.
func FindRegion(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// ContainsRange reports whether [addr, addr+size) is covered by contiguous
// readable regions. memoryMap must be sorted by address.
func ContainsRange(addr uint64, size uint64, memoryMap []MemoryMapItem) bool {
	end := addr + size
	for addr < end {
		item := FindRegion(addr, memoryMap)
		if item == nil || !item.IsReadable() {
			return false
		}
		addr = item.End()
	}
	return true
}

// ModuleSpan is the extent of every mapping backed by one file.
type ModuleSpan struct {
	Name string
	Path string
	Base uint64
	End  uint64
}

// FindModule returns the span covered by mappings whose backing file's base
// name equals name (case-insensitive, as Windows module names are).
func FindModule(name string, memoryMap []MemoryMapItem) (ModuleSpan, bool) {
	var span ModuleSpan
	found := false
	for _, item := range memoryMap {
		if item.Path == "" || !strings.EqualFold(baseName(item.Path), name) {
			continue
		}
		if !found || item.Address < span.Base {
			span.Base = item.Address
		}
		if !found || item.End() > span.End {
			span.End = item.End()
		}
		span.Name = name
		span.Path = item.Path
		found = true
	}
	return span, found
}

// baseName handles both '/' and '\' separators; Wine maps report Windows paths.
func baseName(path string) string {
	if i := strings.LastIndexByte(path, '\\'); i >= 0 {
		path = path[i+1:]
	}
	return filepath.Base(path)
}
