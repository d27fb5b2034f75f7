//go:build linux

package process_linux

import (
	"errors"
	"fmt"

	"monomem/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv reads len(localBuf) bytes at remoteAddr in one syscall.
func process_vm_readv(pid process.ProcessID, localBuf []byte, remoteAddr process.ProcessMemoryAddress) (int, error) {
	localIov := []unix.Iovec{{Base: &localBuf[0]}}
	localIov[0].SetLen(len(localBuf))

	remoteIov := []unix.RemoteIovec{{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}}

	n, err := unix.ProcessVMReadv(int(pid), localIov, remoteIov, 0)
	if err != nil {
		return n, err
	}
	return n, nil
}

// ReadMemoryInto fills buf from the target. The memory map is not consulted:
// it may be stale, and the kernel reports unmapped pages as EFAULT anyway.
func (p *LinuxProcess) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()

	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	if !inUserRange(addr) {
		return fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	}

	n, err := process_vm_readv(pid, buf, addr)
	switch {
	case errors.Is(err, unix.EFAULT):
		return fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotOpen)
	case err != nil:
		return fmt.Errorf("process_vm_readv failed at 0x%x: %w", uint64(addr), err)
	case n != len(buf):
		return fmt.Errorf("%d of %d bytes at 0x%x: %w", n, len(buf), uint64(addr), process.ErrPartialRead)
	}

	return nil
}

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	data := make([]byte, size)
	if err := p.ReadMemoryInto(addr, data); err != nil {
		return nil, err
	}
	return data, nil
}
