//go:build linux

package main

import "monomem/process_linux"

var opener = process_linux.Opener{}

func listRuntimes(modules ...string) ([]runtimeProcess, error) {
	found, err := process_linux.ListWithModule(modules...)
	if err != nil {
		return nil, err
	}
	out := make([]runtimeProcess, len(found))
	for i, p := range found {
		out[i] = runtimeProcess{PID: p.PID, Name: p.Name, Module: p.Module, Base: p.Base}
	}
	return out, nil
}
