//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"monomem/process"

	"golang.org/x/sys/windows"
)

// Opener is the Windows process.ProcessOpener.
type Opener struct{}

var _ process.ProcessOpener = Opener{}

func (Opener) OpenPID(pid process.ProcessID) (process.Process, error) {
	return NewWithPID(pid)
}

// OpenProcessByName opens the lowest PID whose executable name equals name.
func (Opener) OpenProcessByName(name string) (process.Process, error) {
	pid, err := FindPID(name)
	if err != nil {
		return nil, err
	}
	return NewWithPID(pid)
}

// Process is one entry of a process snapshot.
type Process struct {
	PID  int
	Name string

	// Module is the loaded module that matched ListWithModule, if any.
	Module string
	Base   uint64
}

// eachProcess walks a Toolhelp32 process snapshot.
func eachProcess(fn func(pid process.ProcessID, exe string)) error {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return fmt.Errorf("Process32First failed: %w", err)
	}
	for {
		fn(process.ProcessID(entry.ProcessID), windows.UTF16ToString(entry.ExeFile[:]))
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			return nil
		}
	}
}

// FindPID returns the lowest PID whose executable name equals name
// (case-insensitive).
func FindPID(name string) (process.ProcessID, error) {
	var found process.ProcessID
	err := eachProcess(func(pid process.ProcessID, exe string) {
		if strings.EqualFold(exe, name) && (found == 0 || pid < found) {
			found = pid
		}
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("no process found with name '%s'", name)
	}
	return found, nil
}

// ListWithModule returns processes that have loaded any of modules.
// Processes whose module list cannot be read are skipped.
func ListWithModule(modules ...string) ([]*Process, error) {
	if len(modules) == 0 {
		return nil, errors.New("no module names")
	}

	var out []*Process
	err := eachProcess(func(pid process.ProcessID, exe string) {
		if pid == 0 {
			return
		}
		for _, name := range modules {
			m, err := findModule(pid, name)
			if err == nil {
				out = append(out, &Process{PID: int(pid), Name: exe, Module: m.Name, Base: uint64(m.Base)})
				return
			}
			if !errors.Is(err, process.ErrModuleNotFound) {
				return
			}
		}
	})
	return out, err
}
