package pod

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"monomem/process"
)

type header struct {
	Magic uint32
	Count uint16
	_     [2]byte
	Value float64
}

type notPOD struct {
	Name string
}

type bytesReader struct {
	base process.ProcessMemoryAddress
	data []byte
}

func (b bytesReader) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	off := int(addr - b.base)
	if addr < b.base || off+len(buf) > len(b.data) {
		return process.ErrAddressNotMapped
	}
	copy(buf, b.data[off:])
	return nil
}

func TestFromBytes(t *testing.T) {
	want := header{Magic: 0xfeedface, Count: 3, Value: 1.5}
	data := WriteT(want)
	if len(data) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(data))
	}

	got, err := FromBytes[header](data)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if _, err := FromBytes[header](data[:15]); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if _, err := FromBytes[notPOD](make([]byte, 64)); !errors.Is(err, ErrNotPOD) {
		t.Fatalf("expected ErrNotPOD, got %v", err)
	}
}

func TestReadT(t *testing.T) {
	r := bytesReader{base: 0x4000, data: bytes.Repeat(WriteT(header{Magic: 7}), 3)}

	h, err := ReadT[header](r, 0x4010)
	if err != nil {
		t.Fatal(err)
	}
	if h.Magic != 7 {
		t.Fatalf("expected magic 7, got %d", h.Magic)
	}

	all, err := ReadSliceT[header](r, 0x4000, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[2].Magic != 7 {
		t.Fatalf("unexpected slice %+v", all)
	}

	if _, err := ReadT[header](r, 0x4028); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Fatalf("expected ErrAddressNotMapped, got %v", err)
	}
	if _, err := ReadT[notPOD](r, 0x4000); !errors.Is(err, ErrNotPOD) {
		t.Fatalf("expected ErrNotPOD, got %v", err)
	}
}

func TestTableRender(t *testing.T) {
	tbl := NewTable(
		ColumnSpec{Header: "Name"},
		ColumnSpec{Header: "Offset", AlignRight: true},
		ColumnSpec{Header: "Type", FormatFunc: func(s string) string { return "\x1b[36m" + s + "\x1b[0m" }},
	)
	tbl.AddRow("health", "0x10", "float")
	tbl.AddRow("target", "0x20")

	var sb strings.Builder
	if err := tbl.Render(&sb); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), sb.String())
	}
	if lines[0] != "Name   Offset Type" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if lines[1] != "------ ------ -----" {
		t.Fatalf("unexpected rule %q", lines[1])
	}
	if lines[2] != "health   0x10 \x1b[36mfloat\x1b[0m" {
		t.Fatalf("unexpected row %q", lines[2])
	}
	if lines[3] != "target   0x20 \x1b[36m-\x1b[0m" {
		t.Fatalf("unexpected row %q", lines[3])
	}
}
