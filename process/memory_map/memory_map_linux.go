//go:build linux

package memory_map

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LinuxMemoryMap implements MemoryMap for Linux
type LinuxMemoryMap struct{}

func NewLinuxMemoryMap() *LinuxMemoryMap {
	return &LinuxMemoryMap{}
}

// ReadMemoryMap reads /proc/[pid]/maps.
func (l *LinuxMemoryMap) ReadMemoryMap(pid int) ([]MemoryMapItem, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseLinuxMaps(file)
}

// ParseLinuxMaps parses the /proc/[pid]/maps format and returns the items
// sorted by address. Malformed lines are skipped.
func ParseLinuxMaps(r io.Reader) ([]MemoryMapItem, error) {
	var items []MemoryMapItem
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if item, ok := parseMapsLine(scanner.Text()); ok {
			items = append(items, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	Sort(items)
	return items, nil
}

// parseMapsLine reads "start-end perms offset dev inode [path]". The path
// may contain spaces, and Wine adds mappings of paths like "C:\...".
func parseMapsLine(line string) (MemoryMapItem, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return MemoryMapItem{}, false
	}

	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return MemoryMapItem{}, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return MemoryMapItem{}, false
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil || end < start {
		return MemoryMapItem{}, false
	}

	item := MemoryMapItem{Address: start, Size: uint(end - start), Perms: fields[1]}
	if len(fields) > 5 {
		item.Path = strings.Join(fields[5:], " ")
	}
	return item, true
}

func (l *LinuxMemoryMap) IsReadablePerms(perms string) bool {
	return len(perms) > 0 && perms[0] == 'r'
}

func (l *LinuxMemoryMap) IsWritablePerms(perms string) bool {
	return len(perms) > 1 && perms[1] == 'w'
}

func (l *LinuxMemoryMap) IsExecutablePerms(perms string) bool {
	return len(perms) > 2 && perms[2] == 'x'
}
