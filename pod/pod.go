// Package pod reinterprets raw bytes as plain-old-data Go values.
//
// Every unsafe conversion in the module happens here. A type is POD when it
// (recursively) holds no Go pointers, slices, strings, maps, interfaces or
// funcs, so any bit pattern read from a target is a valid value of it.
package pod

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"monomem/process"
)

var (
	// ErrNotPOD is returned for types whose bit patterns are not all valid values.
	ErrNotPOD = errors.New("type contains pointers; not POD-safe")

	// ErrShortBuffer is returned when fewer than sizeof(T) bytes are supplied.
	ErrShortBuffer = errors.New("buffer too small")
)

func SizeOf[T any]() process.ProcessMemorySize {
	var t T
	return process.ProcessMemorySize(unsafe.Sizeof(t))
}

// FromBytes copies the first sizeof(T) bytes of data into a new T.
func FromBytes[T any](data []byte) (T, error) {
	var tmp T
	if hasPointers[T]() {
		return tmp, fmt.Errorf("%T: %w", tmp, ErrNotPOD)
	}

	size := int(unsafe.Sizeof(tmp))
	if len(data) < size {
		return tmp, fmt.Errorf("%T needs %d bytes, have %d: %w", tmp, size, len(data), ErrShortBuffer)
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&tmp)), size)
	copy(dst, data[:size])
	return tmp, nil
}

// ReadT reads sizeof(T) bytes at addr in a single read and reinterprets them.
func ReadT[T any](r process.Reader, addr process.ProcessMemoryAddress) (T, error) {
	var tmp T
	if hasPointers[T]() {
		return tmp, fmt.Errorf("%T: %w", tmp, ErrNotPOD)
	}

	size := int(unsafe.Sizeof(tmp))
	if size == 0 {
		return tmp, errors.New("ReadT: size of T is zero")
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&tmp)), size)
	if err := r.ReadMemoryInto(addr, dst); err != nil {
		var zero T
		return zero, err
	}
	return tmp, nil
}

// WriteT serializes a POD value T into a raw byte slice using its in-memory layout.
func WriteT[T any](v T) []byte {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return []byte{}
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	out := make([]byte, size)
	copy(out, src)
	return out
}

// ReadSliceT reads count consecutive T values with one read.
func ReadSliceT[T any](r process.Reader, addr process.ProcessMemoryAddress, count int) ([]T, error) {
	if count < 0 {
		return nil, errors.New("ReadSliceT: count must be positive")
	}
	if hasPointers[T]() {
		var t T
		return nil, fmt.Errorf("%T: %w", t, ErrNotPOD)
	}

	result := make([]T, count)
	if count == 0 || SizeOf[T]() == 0 {
		return result, nil
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&result[0])), int(SizeOf[T]())*count)
	if err := r.ReadMemoryInto(addr, dst); err != nil {
		return nil, err
	}
	return result, nil
}

// Pointer returns the address of data's first byte for reflection-based
// copies of size bytes. It fails rather than expose a short buffer.
func Pointer(data []byte, size int) (unsafe.Pointer, error) {
	if size <= 0 || len(data) < size {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", size, len(data), ErrShortBuffer)
	}
	return unsafe.Pointer(&data[0]), nil
}

var podCache sync.Map // reflect.Type -> bool

// hasPointers reports whether T (recursively) contains any pointer-like fields.
func hasPointers[T any]() bool {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if v, ok := podCache.Load(rt); ok {
		return v.(bool)
	}
	result := typeHasPointers(rt)
	podCache.Store(rt, result)
	return result
}

func typeHasPointers(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if typeHasPointers(rt.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
