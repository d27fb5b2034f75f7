package mono

import (
	"fmt"
	"iter"

	"monomem/pod"
	"monomem/process"
	"monomem/remote"
)

// IL2CPP (x64) structures.

type il2cppAssembly struct {
	Image                   remote.Ptr[il2cppImage]
	Token                   uint32
	ReferencedAssemblyStart int32
	ReferencedAssemblyCount int32
	_                       [4]byte
	Name                    remote.Ptr[remote.CStr] // aname.name
	Culture                 remote.Ptr[remote.CStr]
}

type il2cppImage struct {
	Name                 remote.Ptr[remote.CStr]
	NameNoExt            remote.Ptr[remote.CStr]
	Assembly             remote.Ptr[il2cppAssembly]
	TypeCount            uint32
	ExportedTypeCount    uint32
	CustomAttributeCount uint32
	_                    [4]byte
	MetadataHandle       remote.Ptr[int32]
	NameToClassHashTable remote.Ptr[remote.Object]
	CodeGenModule        remote.Ptr[remote.Object]
	Token                uint32
	Dynamic              uint8
	_                    [3]byte
}

type il2cppClass struct {
	Image                    remote.Ptr[il2cppImage]
	GCDesc                   remote.Ptr[remote.Object]
	Name                     remote.Ptr[remote.CStr]
	Namespace                remote.Ptr[remote.CStr]
	_                        [56]byte // byval_arg, this_arg, element_class, cast_class, declaring_type
	Parent                   remote.Ptr[il2cppClass]
	_                        [32]byte // generic_class, type_metadata_handle, interop_data, klass
	Fields                   remote.Ptr[il2cppFieldInfo]
	_                        [48]byte // events .. interface_offsets
	StaticFields             remote.Ptr[remote.Object]
	_                        [56]byte // rgctx_data .. generic_container_handle
	InstanceSize             uint32
	ActualSize               uint32
	ElementSize              uint32
	NativeSize               int32
	StaticFieldsSize         uint32
	ThreadStaticFieldsSize   uint32
	ThreadStaticFieldsOffset int32
	Flags                    uint32
	Token                    uint32
	MethodCount              uint16
	PropertyCount            uint16
	FieldCount               uint16
	_                        [22]byte // remaining counts, depths and bitfields
}

type il2cppFieldInfo struct {
	Name   remote.Ptr[remote.CStr]
	Type   remote.Ptr[monoType]
	Parent remote.Ptr[il2cppClass]
	Offset int32
	Token  uint32
}

// il2cppVector is the begin/end/capacity triple of a std::vector of pointers.
type il2cppVector[T any] struct {
	Begin remote.Ptr[remote.Ptr[T]]
	End   remote.Ptr[remote.Ptr[T]]
	Cap   remote.Ptr[remote.Ptr[T]]
}

type aotLayout struct{}

func (aotLayout) images(r process.Reader, rt *Runtime) iter.Seq2[*Image, error] {
	return func(yield func(*Image, error) bool) {
		if rt.Offsets.Assemblies == 0 {
			yield(nil, fmt.Errorf("%s: assemblies offset: %w", rt.Module.Name, ErrProfileIncomplete))
			return
		}

		vecPtr := remote.NewPtr[il2cppVector[il2cppAssembly]](rt.Module.Base.Add(int64(rt.Offsets.Assemblies)))
		vec, err := vecPtr.Read(r)
		if err != nil {
			yield(nil, fmt.Errorf("assemblies vector: %w", err))
			return
		}

		span := int64(vec.End.Addr()) - int64(vec.Begin.Addr())
		count := span / int64(process.PointerSize)
		if span < 0 || span%int64(process.PointerSize) != 0 || count > maxImageCount {
			yield(nil, corrupt("assembly vector span", span))
			return
		}

		for i := int64(0); i < count; i++ {
			asmPtr, err := vec.Begin.ReadAt(r, i)
			if err != nil {
				yield(nil, fmt.Errorf("assembly %d: %w", i, err))
				return
			}
			if asmPtr.IsNull() {
				continue
			}

			img, err := aotImageFromAssembly(r, rt, asmPtr)
			if err != nil {
				yield(nil, err)
				return
			}
			if img == nil {
				continue
			}
			if !yield(img, nil) {
				return
			}
		}
	}
}

func aotImageFromAssembly(r process.Reader, rt *Runtime, asmPtr remote.Ptr[il2cppAssembly]) (*Image, error) {
	asm, err := asmPtr.Read(r)
	if err != nil {
		return nil, fmt.Errorf("assembly at %s: %w", asmPtr, err)
	}
	if asm.Image.IsNull() {
		return nil, nil
	}

	img, err := aotLayout{}.imageAt(r, rt, remote.Cast[remote.Object](asm.Image))
	if err != nil {
		return nil, err
	}

	if !asm.Name.IsNull() {
		if img.Name, err = remote.ReadString(r, asm.Name); err != nil {
			return nil, fmt.Errorf("assembly name at %s: %w", asm.Name, err)
		}
	}
	return img, nil
}

func (aotLayout) imageAt(r process.Reader, rt *Runtime, p remote.Ptr[remote.Object]) (*Image, error) {
	raw, err := remote.Cast[il2cppImage](p).Read(r)
	if err != nil {
		return nil, fmt.Errorf("image at %s: %w", p, err)
	}

	img := &Image{
		ABI:            ABIAOT,
		Ptr:            p,
		runtime:        rt,
		typeCount:      raw.TypeCount,
		metadataHandle: raw.MetadataHandle,
	}

	if !raw.Name.IsNull() {
		if img.FileName, err = remote.ReadString(r, raw.Name); err != nil {
			return nil, fmt.Errorf("image file name at %s: %w", raw.Name, err)
		}
	}
	if img.Name == "" && !raw.NameNoExt.IsNull() {
		if img.Name, err = remote.ReadString(r, raw.NameNoExt); err != nil {
			return nil, fmt.Errorf("image name at %s: %w", raw.NameNoExt, err)
		}
	}
	return img, nil
}

// classes walks the image's slice of the global type-info table. Entries
// stay null until the runtime first touches the class, so nulls are skipped.
func (aotLayout) classes(r process.Reader, img *Image) iter.Seq2[*Class, error] {
	return func(yield func(*Class, error) bool) {
		rt := img.runtime
		if rt == nil || rt.Offsets.TypeInfoTable == 0 {
			yield(nil, fmt.Errorf("type info table offset: %w", ErrProfileIncomplete))
			return
		}
		if img.typeCount > maxTypeCount {
			yield(nil, corrupt("image type count", int64(img.typeCount)))
			return
		}

		tablePtr := remote.NewPtr[remote.Ptr[remote.Ptr[il2cppClass]]](rt.Module.Base.Add(int64(rt.Offsets.TypeInfoTable)))
		table, err := remote.Deref(r, tablePtr)
		if err != nil {
			yield(nil, fmt.Errorf("type info table: %w", err))
			return
		}

		start, err := img.metadataHandle.Read(r)
		if err != nil {
			yield(nil, fmt.Errorf("image metadata handle: %w", err))
			return
		}
		if start < 0 {
			yield(nil, corrupt("image type start", int64(start)))
			return
		}

		first := table.Offset(int64(start))
		for i := int64(0); i < int64(img.typeCount); i++ {
			classPtr, err := first.ReadAt(r, i)
			if err != nil {
				yield(nil, fmt.Errorf("type info %d: %w", int64(start)+i, err))
				return
			}
			if classPtr.IsNull() {
				continue
			}

			class, err := aotLayout{}.classAt(r, remote.Cast[remote.Object](classPtr))
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(class, nil) {
				return
			}
		}
	}
}

func (aotLayout) classAt(r process.Reader, p remote.Ptr[remote.Object]) (*Class, error) {
	raw, err := remote.Cast[il2cppClass](p).Read(r)
	if err != nil {
		return nil, fmt.Errorf("class at %s: %w", p, err)
	}
	return &Class{
		ABI:          ABIAOT,
		Ptr:          p,
		NamePtr:      raw.Name,
		NamespacePtr: raw.Namespace,
		ParentPtr:    remote.Cast[remote.Object](raw.Parent),
		InstanceSize: int64(raw.InstanceSize),
		FieldTable:   remote.Cast[remote.Object](raw.Fields),
		FieldCount:   uint32(raw.FieldCount),
		Token:        raw.Token,
		StaticFields: raw.StaticFields,
		layout:       aotLayout{},
	}, nil
}

func (aotLayout) fieldSize() int64 {
	return int64(pod.SizeOf[il2cppFieldInfo]())
}

func (aotLayout) readField(r process.Reader, p remote.Ptr[remote.Object]) (rawField, error) {
	f, err := remote.Cast[il2cppFieldInfo](p).Read(r)
	if err != nil {
		return rawField{}, err
	}
	return rawField{Name: f.Name, Type: f.Type, Offset: f.Offset}, nil
}

func (aotLayout) staticBase(r process.Reader, c *Class) (remote.Ptr[remote.Object], error) {
	if c.StaticFields.IsNull() {
		return c.StaticFields, fmt.Errorf("static fields (class not initialized): %w", remote.ErrNullPointer)
	}
	return c.StaticFields, nil
}

// Every IL2CPP object starts with its Il2CppClass pointer.
func (aotLayout) headerWord(r process.Reader, c *Class) (remote.Ptr[remote.Object], error) {
	return c.Ptr, nil
}
