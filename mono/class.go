package mono

import (
	"fmt"
	"iter"
	"sync"

	"monomem/process"
	"monomem/process_blob"
	"monomem/remote"
)

// Class is one managed class as either runtime stores it. Name and namespace
// stay remote until asked for; FindClass compares them in place.
type Class struct {
	ABI          ABI
	Ptr          remote.Ptr[remote.Object]
	NamePtr      remote.Ptr[remote.CStr]
	NamespacePtr remote.Ptr[remote.CStr]
	ParentPtr    remote.Ptr[remote.Object]

	// InstanceSize includes the object header; field offsets are relative
	// to the object start as well.
	InstanceSize int64
	FieldTable   remote.Ptr[remote.Object]
	FieldCount   uint32
	Token        uint32

	RuntimeInfo  remote.Ptr[remote.Object] // legacy static storage
	VTableSize   int32                     // legacy static storage
	StaticFields remote.Ptr[remote.Object] // AOT static storage

	layout layout
}

// Field is a decoded field-table entry.
type Field struct {
	Name   string
	Offset int32
	Attrs  uint16
	Type   TypeCode
}

func (f Field) IsStatic() bool {
	return f.Attrs&FieldAttrStatic != 0
}

// IsLiteral reports a compile-time constant, which has no storage at all.
func (f Field) IsLiteral() bool {
	return f.Attrs&FieldAttrLiteral != 0
}

// ClassAt reads the class structure at p.
func ClassAt(r process.Reader, abi ABI, p remote.Ptr[remote.Object]) (*Class, error) {
	if p.IsNull() {
		return nil, fmt.Errorf("class: %w", remote.ErrNullPointer)
	}
	return layoutFor(abi).classAt(r, p)
}

func (c *Class) Name(r process.Reader) (string, error) {
	return remote.ReadString(r, c.NamePtr)
}

func (c *Class) Namespace(r process.Reader) (string, error) {
	if c.NamespacePtr.IsNull() {
		return "", nil
	}
	return remote.ReadString(r, c.NamespacePtr)
}

// FullName is "Namespace.Name", or just Name for the global namespace.
func (c *Class) FullName(r process.Reader) (string, error) {
	name, err := c.Name(r)
	if err != nil {
		return "", err
	}
	ns, err := c.Namespace(r)
	if err != nil {
		return "", err
	}
	if ns == "" {
		return name, nil
	}
	return ns + "." + name, nil
}

// Is compares name and namespace without copying either string.
func (c *Class) Is(r process.Reader, namespace, name string) (bool, error) {
	ok, err := remote.EqualString(r, c.NamePtr, name)
	if err != nil || !ok {
		return false, err
	}
	if c.NamespacePtr.IsNull() {
		return namespace == "", nil
	}
	return remote.EqualString(r, c.NamespacePtr, namespace)
}

// Parent reads the base class, or returns nil for a root class.
func (c *Class) Parent(r process.Reader) (*Class, error) {
	if c.ParentPtr.IsNull() {
		return nil, nil
	}
	return c.layout.classAt(r, c.ParentPtr)
}

// rawFields yields the field table entries in declaration order.
func (c *Class) rawFields(r process.Reader) iter.Seq2[rawField, error] {
	return func(yield func(rawField, error) bool) {
		if c.FieldCount > maxFieldCount {
			yield(rawField{}, corrupt("field count", int64(c.FieldCount)))
			return
		}
		if c.FieldCount > 0 && c.FieldTable.IsNull() {
			yield(rawField{}, fmt.Errorf("field table: %w", remote.ErrNullPointer))
			return
		}

		stride := c.layout.fieldSize()
		for i := int64(0); i < int64(c.FieldCount); i++ {
			f, err := c.layout.readField(r, c.FieldTable.ByteOffset(i*stride))
			if err != nil {
				yield(rawField{}, fmt.Errorf("field %d: %w", i, err))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Fields yields every field of the class itself (not inherited ones), with
// names and type tags read.
func (c *Class) Fields(r process.Reader) iter.Seq2[Field, error] {
	return func(yield func(Field, error) bool) {
		for raw, err := range c.rawFields(r) {
			if err != nil {
				yield(Field{}, err)
				return
			}

			f := Field{Offset: raw.Offset}
			if !raw.Name.IsNull() {
				if f.Name, err = remote.ReadString(r, raw.Name); err != nil {
					yield(Field{}, fmt.Errorf("field name: %w", err))
					return
				}
			}
			if !raw.Type.IsNull() {
				t, err := raw.Type.Read(r)
				if err != nil {
					yield(Field{}, fmt.Errorf("field %q type: %w", f.Name, err))
					return
				}
				f.Attrs = t.Attrs
				f.Type = TypeCode(t.Type)
			}

			if !yield(f, nil) {
				return
			}
		}
	}
}

// FindField returns the offset of the first field named name.
func (c *Class) FindField(r process.Reader, name string) (int32, error) {
	for raw, err := range c.rawFields(r) {
		if err != nil {
			return 0, err
		}
		if raw.Name.IsNull() {
			continue
		}
		ok, err := remote.EqualString(r, raw.Name, name)
		if err != nil {
			return 0, fmt.Errorf("field name: %w", err)
		}
		if ok {
			return raw.Offset, nil
		}
	}
	return 0, fmt.Errorf("%q in class at %s: %w", name, c.Ptr, ErrFieldNotFound)
}

// StaticBase returns the start of the class's static field storage.
func (c *Class) StaticBase(r process.Reader) (remote.Ptr[remote.Object], error) {
	return c.layout.staticBase(r, c)
}

// FieldEntrySize is the stride of c's field table.
func (c *Class) FieldEntrySize() int64 {
	return c.layout.fieldSize()
}

// HeaderWord is the value every instance of c starts with: the class
// itself (AOT) or its domain vtable (legacy). Instance scans match on it.
func (c *Class) HeaderWord(r process.Reader) (remote.Ptr[remote.Object], error) {
	return c.layout.headerWord(r, c)
}

// FindSingleton reads the object reference held in the static field named field.
func (c *Class) FindSingleton(r process.Reader, field string) (remote.Ptr[remote.Object], error) {
	offset, err := c.FindField(r, field)
	if err != nil {
		return remote.Ptr[remote.Object]{}, err
	}

	base, err := c.StaticBase(r)
	if err != nil {
		return remote.Ptr[remote.Object]{}, err
	}

	slot := remote.Cast[remote.Ptr[remote.Object]](base.ByteOffset(int64(offset)))
	inst, err := slot.Read(r)
	if err != nil {
		return remote.Ptr[remote.Object]{}, fmt.Errorf("static field %q: %w", field, err)
	}
	if inst.IsNull() {
		return inst, fmt.Errorf("static field %q: %w", field, ErrNullInstance)
	}
	return inst, nil
}

var snapshotPool = sync.Pool{
	New: func() any { return new([MaxInstanceSize]byte) },
}

// GetInstance copies InstanceSize bytes at inst with one read and hands the
// copy to fn. The blob is only valid during fn.
func (c *Class) GetInstance(r process.Reader, inst remote.Ptr[remote.Object], fn func(*process_blob.ProcessBlob) error) error {
	if c.InstanceSize < 0 {
		return corrupt("instance size", c.InstanceSize)
	}
	if c.InstanceSize > MaxInstanceSize {
		return fmt.Errorf("%d bytes > %d: %w", c.InstanceSize, MaxInstanceSize, ErrInstanceTooLarge)
	}
	if inst.IsNull() {
		return fmt.Errorf("instance: %w", remote.ErrNullPointer)
	}

	buf := snapshotPool.Get().(*[MaxInstanceSize]byte)
	defer snapshotPool.Put(buf)

	data := buf[:c.InstanceSize]
	if err := r.ReadMemoryInto(inst.Addr(), data); err != nil {
		return fmt.Errorf("instance at %s: %w", inst, err)
	}

	return fn(process_blob.NewProcessBlob(inst.Addr(), data))
}
