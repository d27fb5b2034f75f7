package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"monomem/mono"
	"monomem/process"
	"monomem/process_blob"

	"github.com/urfave/cli"
)

// env is one attachment: the target plus whatever has been located in it.
type env struct {
	target   process.Process
	profiles []mono.Profile
	image    string

	rt      *mono.Runtime
	profile mono.Profile
	images  map[string]*mono.Image
	indexes map[string]*mono.ClassIndex
}

// shared is set while the shell runs so every command reuses its target.
var shared *env

// openEnv returns the shell's env, or opens the target named by the global
// flags. The returned func releases what openEnv opened.
func openEnv(c *cli.Context) (*env, func(), error) {
	if shared != nil {
		return shared, func() {}, nil
	}

	profiles, err := selectProfiles(c)
	if err != nil {
		return nil, nil, err
	}
	target, err := openTarget(c)
	if err != nil {
		return nil, nil, err
	}

	e := newEnv(target, profiles, c.GlobalString("image"))
	return e, func() { target.Close() }, nil
}

func newEnv(target process.Process, profiles []mono.Profile, image string) *env {
	return &env{
		target:   target,
		profiles: profiles,
		image:    image,
		images:   make(map[string]*mono.Image),
		indexes:  make(map[string]*mono.ClassIndex),
	}
}

func openTarget(c *cli.Context) (process.Process, error) {
	switch {
	case c.GlobalString("from") != "":
		return process_blob.LoadProcessDump(c.GlobalString("from"))
	case c.GlobalInt("pid") != 0:
		return opener.OpenPID(process.ProcessID(c.GlobalInt("pid")))
	case c.GlobalString("name") != "":
		return opener.OpenProcessByName(c.GlobalString("name"))
	}
	return nil, errors.New("one of --pid, --name or --from is required")
}

// selectProfiles narrows the profile set by --module and --abi. A module
// with no matching profile gets an offsetless one, which can still be found
// but not walked.
func selectProfiles(c *cli.Context) ([]mono.Profile, error) {
	profiles := mono.BuiltinProfiles
	if path := c.GlobalString("profile"); path != "" {
		loaded, err := mono.LoadProfiles(path)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}

	var abi *mono.ABI
	if s := c.GlobalString("abi"); s != "" {
		a, err := mono.ParseABI(s)
		if err != nil {
			return nil, err
		}
		abi = &a
	}

	module := c.GlobalString("module")
	var out []mono.Profile
	for _, p := range profiles {
		if module != "" && !strings.EqualFold(p.Module, module) {
			continue
		}
		if abi != nil && p.ABI != *abi {
			continue
		}
		out = append(out, p)
	}

	if len(out) == 0 && module != "" {
		p, ok := mono.ProfileForModule(module)
		if !ok {
			if abi == nil {
				return nil, fmt.Errorf("unknown module %s: pass --abi", module)
			}
			p = mono.Profile{Module: module, ABI: *abi}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no runtime profile matches --module/--abi")
	}
	return out, nil
}

func (e *env) runtime() (*mono.Runtime, error) {
	if e.rt != nil {
		return e.rt, nil
	}
	rt, profile, err := mono.LocateAny(e.target, e.profiles...)
	if err != nil {
		return nil, err
	}
	e.rt, e.profile = rt, profile
	return rt, nil
}

func (e *env) findImage(name string) (*mono.Image, error) {
	if name == "" {
		name = e.image
	}
	if img, ok := e.images[name]; ok {
		return img, nil
	}

	rt, err := e.runtime()
	if err != nil {
		return nil, err
	}
	img, err := rt.FindImage(e.target, name)
	if err != nil {
		return nil, err
	}
	e.images[name] = img
	return img, nil
}

func (e *env) classIndex(image string) (*mono.ClassIndex, error) {
	img, err := e.findImage(image)
	if err != nil {
		return nil, err
	}
	if ix, ok := e.indexes[img.Name]; ok {
		return ix, nil
	}

	ix, err := mono.BuildClassIndex(e.target, img)
	if err != nil {
		return nil, err
	}
	e.indexes[img.Name] = ix
	return ix, nil
}

// findClass resolves "Namespace.Name" (or a bare name) in the default image.
func (e *env) findClass(fullName string) (*mono.Class, error) {
	img, err := e.findImage("")
	if err != nil {
		return nil, err
	}
	if ix, ok := e.indexes[img.Name]; ok {
		if c, ok := ix.Find(fullName); ok {
			return c, nil
		}
	}

	ns, name := splitClassName(fullName)
	return img.FindClass(e.target, ns, name)
}

// splitClassName splits at the last dot; nested namespaces stay together.
func splitClassName(full string) (string, string) {
	i := strings.LastIndexByte(full, '.')
	if i < 0 {
		return "", full
	}
	return full[:i], full[i+1:]
}

func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return process.ProcessMemoryAddress(v), nil
}

// parseModuleAddress resolves "module+0x1f0" against the target, or a
// plain hex address.
func parseModuleAddress(f process.ModuleFinder, s string) (process.ProcessMemoryAddress, error) {
	module, off, ok := strings.Cut(s, "+")
	if !ok {
		return parseAddress(s)
	}

	m, err := f.FindModule(module)
	if err != nil {
		return 0, err
	}
	delta, err := parseAddress(off)
	if err != nil {
		return 0, err
	}
	return m.Base + delta, nil
}
