package mono

import (
	"fmt"
	"iter"

	"monomem/process"
	"monomem/remote"
)

// Image is one loaded assembly's metadata.
type Image struct {
	ABI      ABI
	Ptr      remote.Ptr[remote.Object]
	Name     string // assembly name, e.g. "Assembly-CSharp"
	FileName string // image file name as the runtime recorded it

	runtime *Runtime

	// legacy
	classCache remote.InternalHashTable[monoClassDef]

	// AOT
	typeCount      uint32
	metadataHandle remote.Ptr[int32]
}

// Classes yields every class the image currently knows about. Order is the
// runtime's storage order. A failed read ends the sequence with an error.
func (img *Image) Classes(r process.Reader) iter.Seq2[*Class, error] {
	return layoutFor(img.ABI).classes(r, img)
}

// ClassCapacity is the number of slots Classes walks: buckets for legacy
// images, type definitions for AOT ones.
func (img *Image) ClassCapacity() int {
	if img.ABI == ABIAOT {
		return int(img.typeCount)
	}
	return int(img.classCache.Size)
}

// FindClass returns the first class matching namespace and name.
func (img *Image) FindClass(r process.Reader, namespace, name string) (*Class, error) {
	for c, err := range img.Classes(r) {
		if err != nil {
			return nil, err
		}
		ok, err := c.Is(r, namespace, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%s in %s: %w", qualify(namespace, name), img.Name, ErrClassNotFound)
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
