// Package remote models pointers and collections that live in another
// process's address space. Nothing here caches: every dereference is a fresh
// read through a process.Reader.
package remote

import (
	"errors"
	"fmt"

	"monomem/pod"
	"monomem/process"
)

// ErrNullPointer is returned when a null Ptr is dereferenced. No read is issued.
var ErrNullPointer = errors.New("null pointer dereference")

// Ptr is a 64-bit address in the target tagged with the type stored there.
// It is 8 bytes with no Go pointers, so it may be embedded in layout structs
// that are read with pod.ReadT.
type Ptr[T any] struct {
	addr uint64
}

// Object tags an untyped managed object.
type Object struct{}

// NewPtr wraps an address.
func NewPtr[T any](addr process.ProcessMemoryAddress) Ptr[T] {
	return Ptr[T]{addr: uint64(addr)}
}

// Cast retypes p without touching the target.
func Cast[U, T any](p Ptr[T]) Ptr[U] {
	return Ptr[U]{addr: p.addr}
}

func (p Ptr[T]) IsNull() bool {
	return p.addr == 0
}

func (p Ptr[T]) Addr() process.ProcessMemoryAddress {
	return process.ProcessMemoryAddress(p.addr)
}

func (p Ptr[T]) String() string {
	if p.addr == 0 {
		return "NULL"
	}
	return fmt.Sprintf("0x%X", p.addr)
}

// ByteOffset moves p by n bytes.
func (p Ptr[T]) ByteOffset(n int64) Ptr[T] {
	return Ptr[T]{addr: p.addr + uint64(n)}
}

// Offset moves p by n elements of T.
func (p Ptr[T]) Offset(n int64) Ptr[T] {
	return p.ByteOffset(n * int64(pod.SizeOf[T]()))
}

// Read copies one T out of the target.
func (p Ptr[T]) Read(r process.Reader) (T, error) {
	if p.IsNull() {
		var zero T
		return zero, ErrNullPointer
	}
	return pod.ReadT[T](r, p.Addr())
}

// ReadAt reads the i-th T of an array starting at p.
func (p Ptr[T]) ReadAt(r process.Reader, i int64) (T, error) {
	if p.IsNull() {
		var zero T
		return zero, ErrNullPointer
	}
	return p.Offset(i).Read(r)
}

// ReadSlice reads n consecutive T in one read.
func (p Ptr[T]) ReadSlice(r process.Reader, n int) ([]T, error) {
	if p.IsNull() {
		return nil, ErrNullPointer
	}
	return pod.ReadSliceT[T](r, p.Addr(), n)
}

// Deref reads the pointer stored at pp and rejects a null result.
func Deref[T any](r process.Reader, pp Ptr[Ptr[T]]) (Ptr[T], error) {
	p, err := pp.Read(r)
	if err != nil {
		return Ptr[T]{}, err
	}
	if p.IsNull() {
		return p, fmt.Errorf("pointer at %s: %w", pp, ErrNullPointer)
	}
	return p, nil
}
