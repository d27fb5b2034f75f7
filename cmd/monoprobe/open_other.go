//go:build !linux && !windows

package main

import (
	"errors"

	"monomem/process"
)

type noOpener struct{}

var opener process.ProcessOpener = noOpener{}

var errUnsupported = errors.New("live processes are not supported on this platform; use --from")

func (noOpener) OpenPID(process.ProcessID) (process.Process, error) {
	return nil, errUnsupported
}

func (noOpener) OpenProcessByName(string) (process.Process, error) {
	return nil, errUnsupported
}

func listRuntimes(...string) ([]runtimeProcess, error) {
	return nil, errUnsupported
}
