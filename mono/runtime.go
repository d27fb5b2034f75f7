package mono

import (
	"errors"
	"fmt"
	"iter"

	"monomem/process"
	"monomem/remote"
)

// Runtime is a located runtime module plus the offsets needed to walk it.
type Runtime struct {
	ABI     ABI
	Module  process.Module
	Offsets Offsets

	layout layout
}

// Locate finds profile.Module in the target. The module is usually mapped
// a little after the process starts, so ErrModuleNotFound is routine.
func Locate(f process.ModuleFinder, profile Profile) (*Runtime, error) {
	m, err := f.FindModule(profile.Module)
	if errors.Is(err, process.ErrModuleNotFound) {
		return nil, fmt.Errorf("%s: %w", profile.Module, ErrModuleNotFound)
	}
	if err != nil {
		return nil, err
	}
	return NewRuntime(m, profile.ABI, profile.Offsets), nil
}

// LocateAny tries each profile in order and returns the first runtime found.
func LocateAny(f process.ModuleFinder, profiles ...Profile) (*Runtime, Profile, error) {
	for _, p := range profiles {
		rt, err := Locate(f, p)
		if errors.Is(err, ErrModuleNotFound) {
			continue
		}
		if err != nil {
			return nil, p, err
		}
		return rt, p, nil
	}
	return nil, Profile{}, fmt.Errorf("tried %d profiles: %w", len(profiles), ErrModuleNotFound)
}

// NewRuntime builds a Runtime for an already resolved module.
func NewRuntime(m process.Module, abi ABI, offsets Offsets) *Runtime {
	return &Runtime{ABI: abi, Module: m, Offsets: offsets, layout: layoutFor(abi)}
}

// Images yields every loaded image with a readable header.
func (rt *Runtime) Images(r process.Reader) iter.Seq2[*Image, error] {
	return rt.layout.images(r, rt)
}

// FindImage returns the image whose assembly name is name.
func (rt *Runtime) FindImage(r process.Reader, name string) (*Image, error) {
	for img, err := range rt.Images(r) {
		if err != nil {
			return nil, err
		}
		if img.Name == name {
			return img, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrImageNotFound)
}

// ImageAt reads an image header from a known address, bypassing the
// assembly list.
func (rt *Runtime) ImageAt(r process.Reader, p remote.Ptr[remote.Object]) (*Image, error) {
	if p.IsNull() {
		return nil, fmt.Errorf("image: %w", remote.ErrNullPointer)
	}
	return rt.layout.imageAt(r, rt, p)
}
