// Package monotest builds synthetic runtime images inside a
// process_blob.ProcessDump so the object model can be exercised without a
// live target. Offsets are written by hand from the runtime headers, which
// makes the fakes an independent check of the mono package's layouts.
package monotest

import (
	"encoding/binary"
	"fmt"
	"math"

	"monomem/process"
)

// Heap is a bump allocator over one writable region.
type Heap struct {
	Base process.ProcessMemoryAddress
	buf  []byte
	used int
}

func NewHeap(base process.ProcessMemoryAddress, size int) *Heap {
	return &Heap{Base: base, buf: make([]byte, size)}
}

func (h *Heap) Bytes() []byte {
	return h.buf
}

// Alloc reserves size zeroed bytes aligned to align (a power of two).
func (h *Heap) Alloc(size, align int) process.ProcessMemoryAddress {
	start := process.AlignUp(h.used, align)
	if start+size > len(h.buf) {
		panic(fmt.Sprintf("monotest: heap exhausted (%d + %d > %d)", start, size, len(h.buf)))
	}
	h.used = start + size
	return h.Base + process.ProcessMemoryAddress(start)
}

func (h *Heap) slice(addr process.ProcessMemoryAddress, n int) []byte {
	off := int(addr - h.Base)
	if addr < h.Base || off+n > len(h.buf) {
		panic(fmt.Sprintf("monotest: write of %d bytes at 0x%x outside heap", n, uint64(addr)))
	}
	return h.buf[off : off+n]
}

func (h *Heap) Put(addr process.ProcessMemoryAddress, data []byte) {
	copy(h.slice(addr, len(data)), data)
}

func (h *Heap) PutU8(addr process.ProcessMemoryAddress, v uint8) {
	h.slice(addr, 1)[0] = v
}

func (h *Heap) PutU16(addr process.ProcessMemoryAddress, v uint16) {
	binary.LittleEndian.PutUint16(h.slice(addr, 2), v)
}

func (h *Heap) PutU32(addr process.ProcessMemoryAddress, v uint32) {
	binary.LittleEndian.PutUint32(h.slice(addr, 4), v)
}

func (h *Heap) PutI32(addr process.ProcessMemoryAddress, v int32) {
	h.PutU32(addr, uint32(v))
}

func (h *Heap) PutU64(addr process.ProcessMemoryAddress, v uint64) {
	binary.LittleEndian.PutUint64(h.slice(addr, 8), v)
}

func (h *Heap) PutF32(addr process.ProcessMemoryAddress, v float32) {
	h.PutU32(addr, math.Float32bits(v))
}

func (h *Heap) PutF64(addr process.ProcessMemoryAddress, v float64) {
	h.PutU64(addr, math.Float64bits(v))
}

func (h *Heap) PutPtr(addr, target process.ProcessMemoryAddress) {
	h.PutU64(addr, uint64(target))
}

// CString stores s with its NUL terminator and returns its address.
func (h *Heap) CString(s string) process.ProcessMemoryAddress {
	addr := h.Alloc(len(s)+1, 1)
	h.Put(addr, append([]byte(s), 0))
	return addr
}

// Contains reports whether addr lies inside the heap.
func (h *Heap) Contains(addr process.ProcessMemoryAddress) bool {
	return addr >= h.Base && int(addr-h.Base) < len(h.buf)
}
