package mono

import (
	"iter"

	"monomem/process"
	"monomem/remote"
)

// layout is what differs between the two runtimes. The set is closed:
// legacyLayout and aotLayout.
type layout interface {
	images(r process.Reader, rt *Runtime) iter.Seq2[*Image, error]
	imageAt(r process.Reader, rt *Runtime, p remote.Ptr[remote.Object]) (*Image, error)
	classes(r process.Reader, img *Image) iter.Seq2[*Class, error]
	classAt(r process.Reader, p remote.Ptr[remote.Object]) (*Class, error)
	fieldSize() int64
	readField(r process.Reader, p remote.Ptr[remote.Object]) (rawField, error)
	staticBase(r process.Reader, c *Class) (remote.Ptr[remote.Object], error)
	headerWord(r process.Reader, c *Class) (remote.Ptr[remote.Object], error)
}

// rawField is one field-table entry before its name is read.
type rawField struct {
	Name   remote.Ptr[remote.CStr]
	Type   remote.Ptr[monoType]
	Offset int32
}

func layoutFor(abi ABI) layout {
	if abi == ABIAOT {
		return aotLayout{}
	}
	return legacyLayout{}
}
