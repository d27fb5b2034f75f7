package process_blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"monomem/process"
)

// ErrOutOfBounds is returned when a slice request does not fit inside the blob.
var ErrOutOfBounds = errors.New("out of bounds")

// ProcessBlob is a local copy of a contiguous range of remote memory.
// It remembers the remote base address so pointers into it can be resolved.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.Reader = (*ProcessBlob)(nil)

func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

func (p *ProcessBlob) Len() int {
	return len(p.data)
}

// Field returns data[offset:offset+size]. Every byte that leaves a blob
// goes through this check; negative offsets and overflow are rejected.
func (p *ProcessBlob) Field(offset int64, size int) ([]byte, error) {
	if offset < 0 || size < 0 || offset > int64(len(p.data)) || int64(size) > int64(len(p.data))-offset {
		return nil, fmt.Errorf("[%d, %d) of %d-byte blob: %w", offset, offset+int64(size), len(p.data), ErrOutOfBounds)
	}
	return p.data[offset : offset+int64(size)], nil
}

// ReadMemoryInto lets a blob stand in for the process it was copied from.
func (p *ProcessBlob) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	if addr < p.baseaddress {
		return fmt.Errorf("0x%x below blob base 0x%x: %w", uint64(addr), uint64(p.baseaddress), process.ErrAddressNotMapped)
	}
	data, err := p.Field(int64(addr-p.baseaddress), len(buf))
	if err != nil {
		return fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	}
	copy(buf, data)
	return nil
}

func (p *ProcessBlob) OffsetUINT32(offset int64) (uint32, error) {
	data, err := p.Field(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (p *ProcessBlob) OffsetUINT64(offset int64) (uint64, error) {
	data, err := p.Field(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (p *ProcessBlob) OffsetINT32(offset int64) (int32, error) {
	v, err := p.OffsetUINT32(offset)
	return int32(v), err
}

func (p *ProcessBlob) OffsetFLOAT32(offset int64) (float32, error) {
	v, err := p.OffsetUINT32(offset)
	return math.Float32frombits(v), err
}
