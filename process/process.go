// Package process defines the read-only view of a target process that the
// introspection packages are built on.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrPartialRead is returned when the target returned fewer bytes than requested.
	// The bytes that were read are discarded.
	ErrPartialRead = errors.New("partial read")

	// ErrModuleNotFound is returned by FindModule when no mapping is backed by the named module.
	ErrModuleNotFound = errors.New("module not found")
)
