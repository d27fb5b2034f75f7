package mono

import (
	"fmt"
	"iter"

	"monomem/pod"
	"monomem/process"
	"monomem/remote"
)

// Legacy Mono (mono-2.0-bdwgc, x64) structures. Only the members this
// package reads are named; the rest is kept as padding so sizes and offsets
// match the runtime's headers.

type monoAssembly struct {
	_     [16]byte                // ref_count, basedir
	Name  remote.Ptr[remote.CStr] // aname.name
	_     [72]byte                // rest of MonoAssemblyName
	Image remote.Ptr[monoImage]
}

type monoImage struct {
	_            [32]byte // ref_count, raw data handle/pointer/len, flags
	Name         remote.Ptr[remote.CStr]
	AssemblyName remote.Ptr[remote.CStr]
	ModuleName   remote.Ptr[remote.CStr]
	_            [1144]byte // version .. aotid, including 56 MonoTableInfo rows
	Assembly     remote.Ptr[monoAssembly]
	MethodCache  remote.Ptr[remote.GHashTable[remote.Object, remote.Object]]
	ClassCache   remote.InternalHashTable[monoClassDef]
}

type monoClass struct {
	_            [28]byte // element_class, cast_class, supertypes, idepth, rank
	InstanceSize int32
	_            [16]byte // flags1, min_align, flags2
	Parent       remote.Ptr[monoClassDef]
	NestedIn     remote.Ptr[monoClassDef]
	Image        remote.Ptr[monoImage]
	Name         remote.Ptr[remote.CStr]
	Namespace    remote.Ptr[remote.CStr]
	TypeToken    uint32
	VTableSize   int32
	_            [48]byte // interface tables
	Sizes        int32
	_            [4]byte
	Fields       remote.Ptr[monoClassField]
	Methods      remote.Ptr[remote.Object]
	_            [40]byte // this_arg, byval_arg, gc_descr
	RuntimeInfo  remote.Ptr[monoClassRuntimeInfo]
	VTable       remote.Ptr[remote.Object]
	_            [16]byte // infrequent_data, unity_user_data
}

type monoClassDef struct {
	Klass          monoClass
	Flags          uint32
	FirstMethodIdx uint32
	FirstFieldIdx  uint32
	MethodCount    uint32
	FieldCount     uint32
	_              [4]byte
	NextClassCache remote.Ptr[monoClassDef]
}

type monoClassField struct {
	Type   remote.Ptr[monoType]
	Name   remote.Ptr[remote.CStr]
	Parent remote.Ptr[monoClassDef]
	Offset int32
	_      [4]byte
}

// monoType is shared by both runtimes (MonoType / Il2CppType).
type monoType struct {
	Data  remote.Ptr[remote.Object]
	Attrs uint16
	Type  uint8
	Flags uint8
	_     [4]byte
}

// monoClassRuntimeInfo is followed in memory by one MonoVTable pointer per domain.
type monoClassRuntimeInfo struct {
	MaxDomain uint16
	_         [6]byte
}

// monoVTable is followed by vtable_size method slots and then the static data pointer.
type monoVTable struct {
	Klass remote.Ptr[monoClassDef]
	_     [56]byte
}

type legacyLayout struct{}

func (legacyLayout) images(r process.Reader, rt *Runtime) iter.Seq2[*Image, error] {
	return func(yield func(*Image, error) bool) {
		if rt.Offsets.Assemblies == 0 {
			yield(nil, fmt.Errorf("%s: assemblies offset: %w", rt.Module.Name, ErrProfileIncomplete))
			return
		}

		headPtr := remote.NewPtr[remote.Ptr[remote.GList[monoAssembly]]](rt.Module.Base.Add(int64(rt.Offsets.Assemblies)))
		head, err := headPtr.Read(r)
		if err != nil {
			yield(nil, fmt.Errorf("loaded assemblies list: %w", err))
			return
		}

		for asmPtr, err := range remote.ListItems(r, head) {
			if err != nil {
				yield(nil, err)
				return
			}

			img, err := legacyImageFromAssembly(r, rt, asmPtr)
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

// legacyImageFromAssembly returns nil, nil for an assembly whose image is not loaded yet.
func legacyImageFromAssembly(r process.Reader, rt *Runtime, asmPtr remote.Ptr[monoAssembly]) (*Image, error) {
	asm, err := asmPtr.Read(r)
	if err != nil {
		return nil, fmt.Errorf("assembly at %s: %w", asmPtr, err)
	}
	if asm.Image.IsNull() {
		return nil, nil
	}

	img, err := legacyLayout{}.imageAt(r, rt, remote.Cast[remote.Object](asm.Image))
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

func (legacyLayout) imageAt(r process.Reader, rt *Runtime, p remote.Ptr[remote.Object]) (*Image, error) {
	raw, err := remote.Cast[monoImage](p).Read(r)
	if err != nil {
		return nil, fmt.Errorf("image at %s: %w", p, err)
	}

	img := &Image{
		ABI:        ABILegacy,
		Ptr:        p,
		runtime:    rt,
		classCache: raw.ClassCache,
	}

	if !raw.Name.IsNull() {
		if img.FileName, err = remote.ReadString(r, raw.Name); err != nil {
			return nil, fmt.Errorf("image file name at %s: %w", raw.Name, err)
		}
	}
	if img.Name == "" && !raw.AssemblyName.IsNull() {
		if img.Name, err = remote.ReadString(r, raw.AssemblyName); err != nil {
			return nil, fmt.Errorf("image assembly name at %s: %w", raw.AssemblyName, err)
		}
	}
	return img, nil
}

func (legacyLayout) classes(r process.Reader, img *Image) iter.Seq2[*Class, error] {
	return func(yield func(*Class, error) bool) {
		cache := img.classCache
		if cache.Size < 0 || cache.Size > maxBucketCount {
			yield(nil, corrupt("class cache bucket count", int64(cache.Size)))
			return
		}

		next := func(def monoClassDef) remote.Ptr[monoClassDef] { return def.NextClassCache }
		for e, err := range cache.Walk(r, next) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(legacyClass(remote.Cast[remote.Object](e.Ptr), &e.Value), nil) {
				return
			}
		}
	}
}

func (legacyLayout) classAt(r process.Reader, p remote.Ptr[remote.Object]) (*Class, error) {
	def, err := remote.Cast[monoClassDef](p).Read(r)
	if err != nil {
		return nil, fmt.Errorf("class at %s: %w", p, err)
	}
	return legacyClass(p, &def), nil
}

func legacyClass(p remote.Ptr[remote.Object], def *monoClassDef) *Class {
	return &Class{
		ABI:          ABILegacy,
		Ptr:          p,
		NamePtr:      def.Klass.Name,
		NamespacePtr: def.Klass.Namespace,
		ParentPtr:    remote.Cast[remote.Object](def.Klass.Parent),
		InstanceSize: int64(def.Klass.InstanceSize),
		FieldTable:   remote.Cast[remote.Object](def.Klass.Fields),
		FieldCount:   def.FieldCount,
		Token:        def.Klass.TypeToken,
		RuntimeInfo:  remote.Cast[remote.Object](def.Klass.RuntimeInfo),
		VTableSize:   def.Klass.VTableSize,
		layout:       legacyLayout{},
	}
}

func (legacyLayout) fieldSize() int64 {
	return int64(pod.SizeOf[monoClassField]())
}

func (legacyLayout) readField(r process.Reader, p remote.Ptr[remote.Object]) (rawField, error) {
	f, err := remote.Cast[monoClassField](p).Read(r)
	if err != nil {
		return rawField{}, err
	}
	return rawField{Name: f.Name, Type: f.Type, Offset: f.Offset}, nil
}

func legacyDomainVTable(r process.Reader, c *Class) (remote.Ptr[monoVTable], error) {
	if c.RuntimeInfo.IsNull() {
		return remote.Ptr[monoVTable]{}, fmt.Errorf("runtime info (class not initialized): %w", remote.ErrNullPointer)
	}

	domainVTables := remote.Cast[remote.Ptr[monoVTable]](c.RuntimeInfo.ByteOffset(int64(pod.SizeOf[monoClassRuntimeInfo]())))
	vtable, err := remote.Deref(r, domainVTables)
	if err != nil {
		return remote.Ptr[monoVTable]{}, fmt.Errorf("domain vtable: %w", err)
	}
	return vtable, nil
}

// staticBase follows runtime_info -> domain vtable -> vtable[vtable_size].
func (legacyLayout) staticBase(r process.Reader, c *Class) (remote.Ptr[remote.Object], error) {
	if c.VTableSize < 0 {
		return remote.Ptr[remote.Object]{}, corrupt("vtable size", int64(c.VTableSize))
	}
	vtable, err := legacyDomainVTable(r, c)
	if err != nil {
		return remote.Ptr[remote.Object]{}, err
	}

	slots := remote.Cast[remote.Ptr[remote.Object]](vtable.ByteOffset(int64(pod.SizeOf[monoVTable]())))
	base, err := slots.ReadAt(r, int64(c.VTableSize))
	if err != nil {
		return remote.Ptr[remote.Object]{}, fmt.Errorf("static data slot: %w", err)
	}
	if base.IsNull() {
		return base, fmt.Errorf("static data: %w", remote.ErrNullPointer)
	}
	return base, nil
}

// A Mono object starts with its domain vtable, not the class.
func (legacyLayout) headerWord(r process.Reader, c *Class) (remote.Ptr[remote.Object], error) {
	vtable, err := legacyDomainVTable(r, c)
	if err != nil {
		return remote.Ptr[remote.Object]{}, err
	}
	return remote.Cast[remote.Object](vtable), nil
}
