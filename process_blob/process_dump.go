package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"monomem/process"
	"monomem/process/memory_map"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"
)

// metadata is the on-disk description of a dump next to its blobs.
type metadata struct {
	PID     process.ProcessID `json:"pid"`
	Name    string            `json:"name"`
	Modules []process.Module  `json:"modules,omitempty"`
}

func blobFilename(dirname string, region memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

// ProcessDump implements process.Process over captured memory: either a
// dump loaded from disk or an image assembled region by region.
type ProcessDump struct {
	PID       process.ProcessID
	Name      string
	MemoryMap []memory_map.MemoryMapItem
	Blobs     map[uint64][]byte // Address -> Data
	Modules   []process.Module

	mu sync.RWMutex
}

var _ process.Process = (*ProcessDump)(nil)

// NewProcessDump creates a new ProcessDump instance
func NewProcessDump() *ProcessDump {
	return &ProcessDump{
		Blobs: make(map[uint64][]byte),
	}
}

// AddRegion maps data at addr. Regions must not overlap.
func (p *ProcessDump) AddRegion(addr process.ProcessMemoryAddress, data []byte, perms string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := memory_map.MemoryMapItem{Address: uint64(addr), Size: uint(len(data)), Perms: perms}
	for _, existing := range p.MemoryMap {
		if item.Address < existing.End() && existing.Address < item.End() {
			return fmt.Errorf("region 0x%x+%d overlaps 0x%x+%d", item.Address, item.Size, existing.Address, existing.Size)
		}
	}

	p.MemoryMap = append(p.MemoryMap, item)
	memory_map.Sort(p.MemoryMap)
	p.Blobs[item.Address] = data
	return nil
}

// AddModule registers a module span for FindModule.
func (p *ProcessDump) AddModule(m process.Module) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Modules = append(p.Modules, m)
}

func (p *ProcessDump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Blobs = nil
	p.MemoryMap = nil
	return nil
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) UpdateMemoryMap() error {
	return nil // Memory map is static in a dump
}

func (p *ProcessDump) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item := memory_map.FindRegion(uint64(addr), p.MemoryMap)
	return item != nil && item.IsReadable() && p.Blobs[item.Address] != nil
}

func (p *ProcessDump) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]memory_map.MemoryMapItem, len(p.MemoryMap))
	copy(result, p.MemoryMap)
	return result, nil
}

// ReadMemoryInto copies from the captured regions. A read may span adjacent
// regions; a hole anywhere in the range fails the whole read.
func (p *ProcessDump) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cursor := uint64(addr)
	done := 0
	for done < len(buf) {
		region := memory_map.FindRegion(cursor, p.MemoryMap)
		if region == nil || !region.IsReadable() {
			return p.readFailure(addr, done, len(buf))
		}

		data, ok := p.Blobs[region.Address]
		if !ok {
			return p.readFailure(addr, done, len(buf))
		}

		offset := cursor - region.Address
		if offset >= uint64(len(data)) {
			return p.readFailure(addr, done, len(buf))
		}

		n := copy(buf[done:], data[offset:])
		done += n
		cursor += uint64(n)
	}

	return nil
}

func (p *ProcessDump) readFailure(addr process.ProcessMemoryAddress, done, want int) error {
	if done == 0 {
		return fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	}
	return fmt.Errorf("%d of %d bytes at 0x%x: %w", done, want, uint64(addr), process.ErrPartialRead)
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	result := make([]byte, size)
	if err := p.ReadMemoryInto(addr, result); err != nil {
		return nil, err
	}
	return result, nil
}

// FindModule matches registered modules first, then file-backed regions.
func (p *ProcessDump) FindModule(name string) (process.Module, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.Modules {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}

	if span, ok := memory_map.FindModule(name, p.MemoryMap); ok {
		return process.Module{
			Name: name,
			Path: span.Path,
			Base: process.ProcessMemoryAddress(span.Base),
			Size: process.ProcessMemorySize(span.End - span.Base),
		}, nil
	}

	return process.Module{}, fmt.Errorf("%s: %w", name, process.ErrModuleNotFound)
}

// Load reads a dump written by Save.
func (p *ProcessDump) Load(dirname string) error {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.Sort(mm)

	blobs := make(map[uint64][]byte)
	for _, region := range mm {
		filename := blobFilename(dirname, region)
		data, err := os.ReadFile(filename)
		if os.IsNotExist(err) {
			continue // not saved: unreadable or too large
		}
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		blobs[region.Address] = data
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.PID = meta.PID
	p.Name = meta.Name
	p.Modules = meta.Modules
	p.MemoryMap = mm
	p.Blobs = blobs
	return nil
}

// LoadProcessDump is NewProcessDump followed by Load.
func LoadProcessDump(dirname string) (*ProcessDump, error) {
	p := NewProcessDump()
	if err := p.Load(dirname); err != nil {
		return nil, err
	}
	return p, nil
}
