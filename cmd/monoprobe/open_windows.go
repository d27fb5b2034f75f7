//go:build windows

package main

import "monomem/process_windows"

var opener = process_windows.Opener{}

func listRuntimes(modules ...string) ([]runtimeProcess, error) {
	found, err := process_windows.ListWithModule(modules...)
	if err != nil {
		return nil, err
	}
	out := make([]runtimeProcess, len(found))
	for i, p := range found {
		out[i] = runtimeProcess{PID: p.PID, Name: p.Name, Module: p.Module, Base: p.Base}
	}
	return out, nil
}
