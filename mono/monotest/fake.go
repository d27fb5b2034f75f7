package monotest

import (
	"errors"
	"fmt"

	"monomem/mono"
	"monomem/process"
	"monomem/process_blob"
)

// Addresses of the synthetic process. The module sits apart from the heap
// so stray reads between them fail.
const (
	ModuleBase = process.ProcessMemoryAddress(0x180000000)
	ModuleSize = 0x10000
	HeapBase   = process.ProcessMemoryAddress(0x20000000)
	HeapSize   = 4 << 20

	assembliesOffset    = 0x1000
	typeInfoTableOffset = 0x2000

	// ObjectHeaderSize is the vtable/klass pointer plus monitor word that
	// precede instance fields in both runtimes.
	ObjectHeaderSize = 0x10

	maxAOTAssemblies = 64
	aotTypesPerImage = 256
	aotTypeTableSize = maxAOTAssemblies * aotTypesPerImage
	legacyVTableSize = 4
)

// FieldSpec describes one field to lay out.
type FieldSpec struct {
	Name   string
	Offset int32
	Type   mono.TypeCode
	Static bool
}

// ClassSpec describes one class to lay out.
type ClassSpec struct {
	Namespace    string
	Name         string
	InstanceSize int
	Fields       []FieldSpec
	Parent       *Class

	// Uninitialized leaves static storage unallocated, as for a class
	// whose static constructor has not run.
	Uninitialized bool
}

// Runtime is a fake runtime module with its heap.
type Runtime struct {
	ABI     mono.ABI
	Heap    *Heap
	Dump    *process_blob.ProcessDump
	Module  process.Module
	Profile mono.Profile

	module []byte
	images []*Image

	// legacy: tail of the loaded-assembly GList
	listTail process.ProcessMemoryAddress

	// AOT
	vectorBegin process.ProcessMemoryAddress
	typeTable   process.ProcessMemoryAddress
	typesUsed   int
}

// NewRuntime maps an empty runtime module and heap for abi.
func NewRuntime(abi mono.ABI) *Runtime {
	rt := &Runtime{
		ABI:    abi,
		Heap:   NewHeap(HeapBase, HeapSize),
		Dump:   process_blob.NewProcessDump(),
		module: make([]byte, ModuleSize),
	}

	name := "mono-2.0-bdwgc.dll"
	offsets := mono.Offsets{Assemblies: assembliesOffset}
	if abi == mono.ABIAOT {
		name = "GameAssembly.dll"
		offsets.TypeInfoTable = typeInfoTableOffset
	}

	rt.Module = process.Module{Name: name, Base: ModuleBase, Size: ModuleSize}
	rt.Profile = mono.Profile{Name: "fake", Module: name, ABI: abi, Offsets: offsets}

	must(rt.Dump.AddRegion(ModuleBase, rt.module, "r--p"))
	must(rt.Dump.AddRegion(HeapBase, rt.Heap.Bytes(), "rw-p"))
	rt.Dump.AddModule(rt.Module)

	if abi == mono.ABIAOT {
		rt.vectorBegin = rt.Heap.Alloc(maxAOTAssemblies*8, 8)
		rt.putModulePtr(assembliesOffset, rt.vectorBegin)
		rt.putModulePtr(assembliesOffset+8, rt.vectorBegin)
		rt.putModulePtr(assembliesOffset+16, rt.vectorBegin+maxAOTAssemblies*8)

		rt.typeTable = rt.Heap.Alloc(aotTypeTableSize*8, 8)
		rt.putModulePtr(typeInfoTableOffset, rt.typeTable)
	}

	return rt
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func (rt *Runtime) putModulePtr(offset int, target process.ProcessMemoryAddress) {
	for i := 0; i < 8; i++ {
		rt.module[offset+i] = byte(uint64(target) >> (8 * i))
	}
}

// Image is a fake loaded image.
type Image struct {
	rt      *Runtime
	Name    string
	Ptr     process.ProcessMemoryAddress
	Classes []*Class

	// legacy
	buckets  process.ProcessMemoryAddress
	nbuckets int
	tails    []process.ProcessMemoryAddress

	// AOT
	typeStart int
	typeCount int
}

// AddImage loads an assembly named name. Legacy images get a class cache of
// buckets slots; AOT images ignore buckets.
func (rt *Runtime) AddImage(name string, buckets int) *Image {
	img := &Image{rt: rt, Name: name}
	h := rt.Heap
	nameAddr := h.CString(name)
	fileAddr := h.CString(name + ".dll")

	if rt.ABI == mono.ABILegacy {
		asm := h.Alloc(104, 8)
		img.Ptr = h.Alloc(1256, 8)
		h.PutPtr(asm+16, nameAddr)
		h.PutPtr(asm+96, img.Ptr)

		h.PutPtr(img.Ptr+32, fileAddr)
		h.PutPtr(img.Ptr+40, nameAddr)
		h.PutPtr(img.Ptr+1200, asm)

		img.nbuckets = buckets
		img.tails = make([]process.ProcessMemoryAddress, buckets)
		if buckets > 0 {
			img.buckets = h.Alloc(buckets*8, 8)
		}
		h.PutI32(img.Ptr+1216+24, int32(buckets))
		h.PutPtr(img.Ptr+1216+32, img.buckets)

		node := h.Alloc(24, 8)
		h.PutPtr(node, asm)
		if rt.listTail == 0 {
			rt.putModulePtr(assembliesOffset, node)
		} else {
			h.PutPtr(rt.listTail+8, node)
			h.PutPtr(node+16, rt.listTail)
		}
		rt.listTail = node
	} else {
		if len(rt.images) == maxAOTAssemblies {
			panic("monotest: too many AOT images")
		}
		asm := h.Alloc(88, 8)
		img.Ptr = h.Alloc(72, 8)
		h.PutPtr(asm, img.Ptr)
		h.PutPtr(asm+24, nameAddr)

		h.PutPtr(img.Ptr, fileAddr)
		h.PutPtr(img.Ptr+8, nameAddr)
		h.PutPtr(img.Ptr+16, asm)

		img.typeStart = rt.typesUsed
		rt.typesUsed += aotTypesPerImage
		handle := h.Alloc(4, 4)
		h.PutI32(handle, int32(img.typeStart))
		h.PutPtr(img.Ptr+40, handle)

		slot := rt.vectorBegin + process.ProcessMemoryAddress(8*len(rt.images))
		h.PutPtr(slot, asm)
		rt.putModulePtr(assembliesOffset+8, slot+8)
	}

	rt.images = append(rt.images, img)
	return img
}

// Class is a fake class with its static storage.
type Class struct {
	img     *Image
	Spec    ClassSpec
	Ptr     process.ProcessMemoryAddress
	Statics process.ProcessMemoryAddress
	VTable  process.ProcessMemoryAddress // legacy only
}

// AddClass lays out spec. Legacy classes go into bucket len(Classes) % buckets.
func (img *Image) AddClass(spec ClassSpec) *Class {
	if img.rt.ABI == mono.ABILegacy {
		if img.nbuckets == 0 {
			panic("monotest: legacy image has no buckets")
		}
		return img.AddClassInBucket(spec, len(img.Classes)%img.nbuckets)
	}
	c := img.layoutAOT(spec)
	img.Classes = append(img.Classes, c)
	return c
}

// AddClassInBucket appends a legacy class to the end of one bucket's chain.
func (img *Image) AddClassInBucket(spec ClassSpec, bucket int) *Class {
	c := img.layoutLegacy(spec)

	h := img.rt.Heap
	if tail := img.tails[bucket]; tail == 0 {
		h.PutPtr(img.buckets+process.ProcessMemoryAddress(8*bucket), c.Ptr)
	} else {
		h.PutPtr(tail+264, c.Ptr)
	}
	img.tails[bucket] = c.Ptr

	img.Classes = append(img.Classes, c)
	return c
}

// AddNullType leaves an empty slot in an AOT image's type table, as for a
// type the runtime has not initialized.
func (img *Image) AddNullType() {
	img.reserveType()
}

func (img *Image) reserveType() process.ProcessMemoryAddress {
	if img.typeCount == aotTypesPerImage {
		panic("monotest: too many AOT types in one image")
	}
	slot := img.rt.typeTable + process.ProcessMemoryAddress(8*(img.typeStart+img.typeCount))
	img.typeCount++
	img.rt.Heap.PutU32(img.Ptr+24, uint32(img.typeCount))
	return slot
}

func (img *Image) fieldTable(spec ClassSpec, stride int, owner process.ProcessMemoryAddress) process.ProcessMemoryAddress {
	h := img.rt.Heap
	if len(spec.Fields) == 0 {
		return 0
	}

	table := h.Alloc(stride*len(spec.Fields), 8)
	for i, f := range spec.Fields {
		entry := table + process.ProcessMemoryAddress(i*stride)
		typ := h.Alloc(16, 8)
		var attrs uint16
		if f.Static {
			attrs |= mono.FieldAttrStatic
		}
		h.PutU16(typ+8, attrs)
		h.PutU8(typ+10, uint8(f.Type))

		name := h.CString(f.Name)
		if img.rt.ABI == mono.ABILegacy {
			h.PutPtr(entry, typ)
			h.PutPtr(entry+8, name)
		} else {
			h.PutPtr(entry, name)
			h.PutPtr(entry+8, typ)
		}
		h.PutPtr(entry+16, owner)
		h.PutI32(entry+24, f.Offset)
	}
	return table
}

func staticSize(spec ClassSpec) int {
	size := 0
	for _, f := range spec.Fields {
		if f.Static {
			size = max(size, int(f.Offset)+8)
		}
	}
	return size
}

func (img *Image) layoutLegacy(spec ClassSpec) *Class {
	h := img.rt.Heap
	c := &Class{img: img, Spec: spec, Ptr: h.Alloc(272, 8)}

	h.PutI32(c.Ptr+28, int32(spec.InstanceSize))
	if spec.Parent != nil {
		h.PutPtr(c.Ptr+48, spec.Parent.Ptr)
	}
	h.PutPtr(c.Ptr+64, img.Ptr)
	h.PutPtr(c.Ptr+72, h.CString(spec.Name))
	if spec.Namespace != "" {
		h.PutPtr(c.Ptr+80, h.CString(spec.Namespace))
	}
	h.PutU32(c.Ptr+88, 0x02000000|uint32(len(img.Classes)+1))
	h.PutI32(c.Ptr+92, legacyVTableSize)
	h.PutPtr(c.Ptr+152, img.fieldTable(spec, 32, c.Ptr))
	h.PutU32(c.Ptr+256, uint32(len(spec.Fields)))

	if spec.Uninitialized {
		return c
	}

	c.VTable = h.Alloc(64+8*(legacyVTableSize+1), 8)
	h.PutPtr(c.VTable, c.Ptr)
	if size := staticSize(spec); size > 0 {
		c.Statics = h.Alloc(size, 8)
		h.PutPtr(c.VTable+64+8*legacyVTableSize, c.Statics)
	}

	runtimeInfo := h.Alloc(16, 8)
	h.PutU16(runtimeInfo, 0)
	h.PutPtr(runtimeInfo+8, c.VTable)
	h.PutPtr(c.Ptr+208, runtimeInfo)
	h.PutPtr(c.Ptr+216, c.VTable)
	return c
}

func (img *Image) layoutAOT(spec ClassSpec) *Class {
	h := img.rt.Heap
	slot := img.reserveType()
	c := &Class{img: img, Spec: spec, Ptr: h.Alloc(312, 8)}
	h.PutPtr(slot, c.Ptr)

	h.PutPtr(c.Ptr, img.Ptr)
	h.PutPtr(c.Ptr+16, h.CString(spec.Name))
	h.PutPtr(c.Ptr+24, h.CString(spec.Namespace))
	if spec.Parent != nil {
		h.PutPtr(c.Ptr+88, spec.Parent.Ptr)
	}
	h.PutPtr(c.Ptr+128, img.fieldTable(spec, 32, c.Ptr))
	h.PutU32(c.Ptr+248, uint32(spec.InstanceSize))
	h.PutU32(c.Ptr+280, 0x02000000|uint32(img.typeCount))
	h.PutU16(c.Ptr+288, uint16(len(spec.Fields)))

	if size := staticSize(spec); size > 0 && !spec.Uninitialized {
		c.Statics = h.Alloc(size, 8)
		h.PutPtr(c.Ptr+184, c.Statics)
		h.PutU32(c.Ptr+264, uint32(size))
	}
	return c
}

// SetStatic stores a pointer-sized value in the named static field.
func (c *Class) SetStatic(field string, value uint64) {
	for _, f := range c.Spec.Fields {
		if f.Static && f.Name == field {
			if c.Statics == 0 {
				panic("monotest: class has no static storage")
			}
			c.img.rt.Heap.PutU64(c.Statics+process.ProcessMemoryAddress(f.Offset), value)
			return
		}
	}
	panic(fmt.Sprintf("monotest: no static field %q", field))
}

// NewInstance allocates a zeroed instance whose header points at the class.
func (c *Class) NewInstance() process.ProcessMemoryAddress {
	h := c.img.rt.Heap
	size := max(c.Spec.InstanceSize, ObjectHeaderSize)
	inst := h.Alloc(size, 16)
	if c.VTable != 0 {
		h.PutPtr(inst, c.VTable)
	} else {
		h.PutPtr(inst, c.Ptr)
	}
	return inst
}

// ErrInjected is returned by FaultyReader for the poisoned range.
var ErrInjected = errors.New("injected read failure")

// FaultyReader fails every read that touches [Addr, Addr+Len).
type FaultyReader struct {
	R    process.Reader
	Addr process.ProcessMemoryAddress
	Len  int
}

func (f FaultyReader) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	end := addr + process.ProcessMemoryAddress(len(buf))
	if addr < f.Addr+process.ProcessMemoryAddress(f.Len) && f.Addr < end {
		return fmt.Errorf("0x%x: %w", uint64(addr), ErrInjected)
	}
	return f.R.ReadMemoryInto(addr, buf)
}

// FieldEntry returns the address of field i's table entry, for fault
// injection. String reads are chunked and may run past their own string,
// so faults aimed at a name would also hit its neighbours.
func (c *Class) FieldEntry(i int) process.ProcessMemoryAddress {
	table := c.img.rt.Heap.readPtr(c.fieldTableAddr())
	return table + process.ProcessMemoryAddress(32*i)
}

func (c *Class) fieldTableAddr() process.ProcessMemoryAddress {
	if c.img.rt.ABI == mono.ABILegacy {
		return c.Ptr + 152
	}
	return c.Ptr + 128
}

func (h *Heap) readPtr(addr process.ProcessMemoryAddress) process.ProcessMemoryAddress {
	var v uint64
	for i, b := range h.slice(addr, 8) {
		v |= uint64(b) << (8 * i)
	}
	return process.ProcessMemoryAddress(v)
}
