package process

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// PointerSize is the width of a remote pointer. Only 64-bit targets are supported.
const PointerSize = 8

// ReadPath reads a value of type T at the end of a pointer path.
// It starts at base, adds the first offset, reads a pointer, adds the next offset, reads a pointer, etc.
// The last offset is added to the final pointer, and then T is read from that address.
// If offsets is empty, it reads T from base.
//
// A null pointer anywhere along the path fails the whole read.
func ReadPath[T any](r Reader, base ProcessMemoryAddress, offsets ...ProcessMemorySize) (T, error) {
	var zero T
	currentAddr := base

	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := currentAddr + ProcessMemoryAddress(offsets[i])

		ptrVal, err := ReadPointer(r, ptrAddr)
		if err != nil {
			return zero, fmt.Errorf("failed to read pointer at offset %d (addr 0x%x): %w", i, ptrAddr, err)
		}

		if ptrVal == 0 {
			return zero, fmt.Errorf("pointer at offset %d (addr 0x%x) is null", i, ptrAddr)
		}

		currentAddr = ptrVal
	}

	finalOffset := ProcessMemorySize(0)
	if len(offsets) > 0 {
		finalOffset = offsets[len(offsets)-1]
	}

	finalAddr := currentAddr + ProcessMemoryAddress(finalOffset)

	val, err := readT[T](r, finalAddr)
	if err != nil {
		return zero, fmt.Errorf("failed to read final value at 0x%x: %w", finalAddr, err)
	}

	return val, nil
}

// ReadPointer reads one little-endian 64-bit pointer.
func ReadPointer(r Reader, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	var buf [PointerSize]byte
	if err := r.ReadMemoryInto(addr, buf[:]); err != nil {
		return 0, err
	}
	return ProcessMemoryAddress(binary.LittleEndian.Uint64(buf[:])), nil
}

// readT copies sizeof(T) bytes into a T. The pod package has the checked
// version; process cannot import it (pod imports process).
func readT[T any](r Reader, addr ProcessMemoryAddress) (T, error) {
	var t T
	size := int(unsafe.Sizeof(t))
	if size == 0 {
		return t, nil
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&t)), size)
	if err := r.ReadMemoryInto(addr, dst); err != nil {
		var zero T
		return zero, err
	}
	return t, nil
}
