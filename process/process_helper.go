package process

// ProcessOpener opens processes for reading. Each platform backend provides one.
type ProcessOpener interface {
	// OpenPID opens the process with the given PID
	OpenPID(pid ProcessID) (Process, error)

	// OpenProcessByName opens a process by its name (returns the lowest PID match)
	OpenProcessByName(name string) (Process, error)
}
