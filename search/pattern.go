package search

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"monomem/process"
)

// Pattern is a byte signature with wildcards, e.g. "48 8b 05 ?? ?? ?? ??".
// Signatures find the runtime statics a profile needs when the build has
// no published offsets.
type Pattern struct {
	Value []byte
	Mask  []byte // 0xFF must match, 0x00 is a wildcard
}

// ParsePattern reads hex bytes separated by spaces or commas. "?" and "??"
// match any byte.
func ParsePattern(s string) (Pattern, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})

	var p Pattern
	for _, part := range parts {
		if part == "??" || part == "?" {
			p.Value = append(p.Value, 0)
			p.Mask = append(p.Mask, 0)
			continue
		}

		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("invalid hex byte %q", part)
		}
		p.Value = append(p.Value, byte(v))
		p.Mask = append(p.Mask, 0xFF)
	}

	if len(p.Value) == 0 {
		return Pattern{}, errors.New("empty pattern")
	}
	if p.Mask[0] == 0 || p.Mask[len(p.Mask)-1] == 0 {
		return Pattern{}, errors.New("pattern must start and end with a concrete byte")
	}
	return p, nil
}

func (p Pattern) Len() int {
	return len(p.Value)
}

func (p Pattern) String() string {
	var sb strings.Builder
	for i := range p.Value {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.Mask[i] == 0 {
			sb.WriteString("??")
		} else {
			sb.WriteString(hex.EncodeToString(p.Value[i : i+1]))
		}
	}
	return sb.String()
}

func (p Pattern) matchAt(data []byte) bool {
	for i, v := range p.Value {
		if data[i]&p.Mask[i] != v&p.Mask[i] {
			return false
		}
	}
	return true
}

// Scan returns every address where p matches, at any alignment. Chunks
// overlap by len(p)-1 bytes so a match across a chunk boundary is found
// once. The alignment option is ignored.
func Scan(src Source, p Pattern, options ...Option) ([]process.ProcessMemoryAddress, error) {
	s, err := newSearcher(options...)
	if err != nil {
		return nil, err
	}
	if p.Len() == 0 || len(p.Mask) != p.Len() {
		return nil, errors.New("invalid pattern")
	}
	if s.ChunkSize < p.Len() {
		return nil, fmt.Errorf("chunk size %d is shorter than the pattern", s.ChunkSize)
	}

	regions, err := src.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("memory map: %w", err)
	}

	var results []process.ProcessMemoryAddress
	buf := make([]byte, s.ChunkSize)
	step := uint64(s.ChunkSize - p.Len() + 1)

	for _, region := range regions {
		if !s.Filter(region) || uint64(region.Size) > s.MaxRegion {
			continue
		}

		for chunk := region.Address; chunk+uint64(p.Len()) <= region.End(); chunk += step {
			n := min(uint64(s.ChunkSize), region.End()-chunk)
			data := buf[:n]
			if err := src.ReadMemoryInto(process.ProcessMemoryAddress(chunk), data); err != nil {
				continue
			}

			for off := 0; off+p.Len() <= len(data) && uint64(off) < step; off++ {
				if !p.matchAt(data[off:]) {
					continue
				}
				results = append(results, process.ProcessMemoryAddress(chunk+uint64(off)))
				if s.MaxResults > 0 && len(results) >= s.MaxResults {
					return results, nil
				}
			}
		}
	}
	return results, nil
}
