//go:build linux

package process_linux

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"

	"monomem/process/memory_map"
)

type Process struct {
	PID  int
	Name string // comm, or the exe basename when comm does not match

	// Module is the mapped file that matched ListWithModule, if any.
	Module string
	Base   uint64
}

// eachPID calls fn for every numeric /proc entry except ourselves.
func eachPID(fn func(pid int, dir string)) error {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return fmt.Errorf("read /proc: %w", err)
	}

	self := os.Getpid()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 || pid == self {
			continue
		}
		fn(pid, filepath.Join("/proc", e.Name()))
	}
	return nil
}

func comm(dir string) string {
	b, _ := os.ReadFile(filepath.Join(dir, "comm"))
	return string(bytes.TrimRight(b, "\r\n\t "))
}

// ListByName returns all processes whose comm or exe basename equals name.
// The match is case-sensitive, like pidof. Wine and Proton report the .exe
// name as comm, so a Windows game under Proton is found by "Game.exe".
func ListByName(name string) ([]*Process, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}

	var out []*Process
	err := eachPID(func(pid int, dir string) {
		if c := comm(dir); c == name {
			out = append(out, &Process{PID: pid, Name: c})
			return
		}
		// exe is unreadable for zombies and foreign users
		exe, _ := os.Readlink(filepath.Join(dir, "exe"))
		if exe != "" && filepath.Base(exe) == name {
			out = append(out, &Process{PID: pid, Name: filepath.Base(exe)})
		}
	})
	return out, err
}

// ListWithModule returns processes that map any of modules, matched by file
// basename as memory_map.FindModule does. Under Proton the Windows DLLs are
// mapped from inside the prefix. Processes whose maps cannot be read are
// skipped.
func ListWithModule(modules ...string) ([]*Process, error) {
	if len(modules) == 0 {
		return nil, errors.New("no module names")
	}

	maps := memory_map.NewLinuxMemoryMap()
	var out []*Process
	err := eachPID(func(pid int, dir string) {
		items, err := maps.ReadMemoryMap(pid)
		if err != nil {
			return
		}
		for _, m := range modules {
			if span, ok := memory_map.FindModule(m, items); ok {
				out = append(out, &Process{PID: pid, Name: comm(dir), Module: span.Name, Base: span.Base})
				return
			}
		}
	})
	return out, err
}

// OneByName returns the lowest-PID match for name, or os.ErrNotExist.
func OneByName(name string) (*Process, error) {
	ps, err := ListByName(name)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, os.ErrNotExist
	}
	return slices.MinFunc(ps, func(a, b *Process) int { return a.PID - b.PID }), nil
}

// Exists reports whether pid is still present.
func Exists(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	// permission or EIO on /proc: ask the kernel instead
	return syscall.Kill(pid, 0) == nil
}
