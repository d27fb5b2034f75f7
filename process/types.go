package process

import "fmt"

// ProcessID represents a unique identifier for a process
type ProcessID int

// Module is a loaded image (executable or shared library) inside a process.
type Module struct {
	Name string               // File name as matched, e.g. "GameAssembly.dll"
	Path string               // Full backing path when the platform reports one
	Base ProcessMemoryAddress // Lowest mapped address of the image
	Size ProcessMemorySize    // Span from Base to the end of the highest mapping
}

func (m Module) String() string {
	return fmt.Sprintf("%s @ %s (%s)", m.Name, m.Base.ToString(), m.Size.ToString())
}

// Contains reports whether addr falls inside the module's span.
func (m Module) Contains(addr ProcessMemoryAddress) bool {
	return addr >= m.Base && uint64(addr) < uint64(m.Base)+uint64(m.Size)
}
