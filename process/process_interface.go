package process

import (
	"monomem/process/memory_map"
)

// Reader is the single remote read primitive everything else is built on.
//
// ReadMemoryInto fills buf with len(buf) bytes starting at addr. It either
// fills the whole buffer or returns an error; a short read is an error.
// Failures are routine: the target may be paused, exiting, or the page
// may simply not be mapped.
type Reader interface {
	ReadMemoryInto(addr ProcessMemoryAddress, buf []byte) error
}

// ModuleFinder resolves a loaded module by file name.
type ModuleFinder interface {
	FindModule(name string) (Module, error)
}

// Process is the interface that defines operations for inspecting a system process
type Process interface {
	Reader
	ModuleFinder

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// ReadMemory reads memory from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}
