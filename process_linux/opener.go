//go:build linux

package process_linux

import (
	"fmt"
	"os"

	"monomem/process"
)

// Opener is the Linux process.ProcessOpener.
type Opener struct{}

var _ process.ProcessOpener = Opener{}

func (Opener) OpenPID(pid process.ProcessID) (process.Process, error) {
	return NewWithPID(pid)
}

// OpenProcessByName opens the lowest PID whose comm or exe name equals name.
func (Opener) OpenProcessByName(name string) (process.Process, error) {
	found, err := OneByName(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no process found with name '%s': %w", name, err)
		}
		return nil, err
	}
	return NewWithPID(process.ProcessID(found.PID))
}
