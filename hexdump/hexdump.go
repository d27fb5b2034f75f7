// Package hexdump renders instance snapshots and raw regions as coloured
// hex, with bound fields highlighted and pointer-looking words annotated.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"monomem/process"

	"github.com/fatih/color"
)

// AddressChecker decides whether a word looks like a live pointer.
// process.Process and process_blob.ProcessDump both satisfy it.
type AddressChecker interface {
	IsValidAddress(addr process.ProcessMemoryAddress) bool
}

// Span marks bytes [Start, Start+Len) of the data, e.g. one bound field.
type Span struct {
	Start int
	Len   int
}

func (s Span) contains(i int) bool {
	return i >= s.Start && i < s.Start+s.Len
}

type Palette struct {
	Offset    *color.Color
	Hex       *color.Color
	Zero      *color.Color
	ASCII     *color.Color
	NonPrint  *color.Color
	Highlight *color.Color
	Pointer   *color.Color
}

func DefaultPalette() Palette {
	return Palette{
		Offset:    color.New(color.FgCyan),
		Hex:       color.New(color.FgGreen),
		Zero:      color.New(color.FgHiBlack),
		ASCII:     color.New(color.FgWhite),
		NonPrint:  color.New(color.FgRed),
		Highlight: color.New(color.FgBlack, color.BgYellow),
		Pointer:   color.New(color.FgYellow),
	}
}

type Options struct {
	BytesPerLine int
	GroupSize    int
	ShowASCII    bool

	// Base is the address of data[0]; the offset column shows Base+offset.
	Base        uint64
	OffsetWidth int

	// MaxLines truncates the dump; 0 shows everything.
	MaxLines int

	// Pointers, when set, annotates each line with the words at +0 and +8
	// that point into mapped memory.
	Pointers AddressChecker

	Spans  []Span
	Colors Palette
}

func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		GroupSize:    1,
		ShowASCII:    true,
		OffsetWidth:  8,
		Colors:       DefaultPalette(),
	}
}

func (o *Options) normalize() {
	if o.BytesPerLine <= 0 {
		o.BytesPerLine = 16
	}
	if o.GroupSize <= 0 || o.GroupSize > o.BytesPerLine {
		o.GroupSize = 1
	}
	if o.OffsetWidth <= 0 {
		o.OffsetWidth = 8
	}
}

func Dump(data []byte, o Options) string {
	var buf bytes.Buffer
	Write(&buf, data, o)
	return buf.String()
}

// Write renders data to w, one line per BytesPerLine bytes:
//
//	addr  00 01 02 03 04 05 06 07 | 08 09 0a 0b 0c 0d 0e 0f | ........ ........ | 0x... 0x...
func Write(w io.Writer, data []byte, o Options) {
	o.normalize()

	lines := 0
	for off := 0; off < len(data); off += o.BytesPerLine {
		if o.MaxLines > 0 && lines >= o.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}
		end := min(off+o.BytesPerLine, len(data))
		writeLine(w, data, off, end, o)
		lines++
	}
}

func paint(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

func (o Options) highlighted(i int) bool {
	for _, s := range o.Spans {
		if s.contains(i) {
			return true
		}
	}
	return false
}

func writeLine(w io.Writer, data []byte, start, end int, o Options) {
	line := data[start:end]
	half := o.BytesPerLine / 2
	split := o.BytesPerLine >= 8

	fmt.Fprint(w, paint(o.Colors.Offset, fmt.Sprintf("%0*x", o.OffsetWidth, o.Base+uint64(start))), "  ")

	// hex column, padded so the ASCII column lines up on a short last line
	var hex strings.Builder
	for i := 0; i < o.BytesPerLine; i++ {
		if i > 0 && i%o.GroupSize == 0 {
			if split && i == half {
				hex.WriteString(" | ")
			} else {
				hex.WriteByte(' ')
			}
		}
		if i >= len(line) {
			hex.WriteString("  ")
			continue
		}
		b := line[i]
		c := o.Colors.Hex
		switch {
		case o.highlighted(start + i):
			c = o.Colors.Highlight
		case b == 0:
			c = o.Colors.Zero
		}
		hex.WriteString(paint(c, fmt.Sprintf("%02x", b)))
	}
	fmt.Fprint(w, hex.String())

	if o.ShowASCII {
		fmt.Fprint(w, " | ")
		for i, b := range line {
			if split && i == half {
				fmt.Fprint(w, " ")
			}
			switch {
			case o.highlighted(start + i):
				fmt.Fprint(w, paint(o.Colors.Highlight, printable(b)))
			case b == 0:
				fmt.Fprint(w, paint(o.Colors.Zero, "."))
			case b < 0x20 || b > 0x7e:
				fmt.Fprint(w, paint(o.Colors.NonPrint, "."))
			default:
				fmt.Fprint(w, paint(o.Colors.ASCII, string(rune(b))))
			}
		}
	}

	if o.Pointers != nil {
		var ptrs []string
		for p := 0; p+process.PointerSize <= len(line) && p < 16; p += process.PointerSize {
			v := binary.LittleEndian.Uint64(line[p:])
			if v != 0 && o.Pointers.IsValidAddress(process.ProcessMemoryAddress(v)) {
				ptrs = append(ptrs, paint(o.Colors.Pointer, fmt.Sprintf("0x%x", v)))
			}
		}
		if len(ptrs) > 0 {
			fmt.Fprint(w, " | ", strings.Join(ptrs, " "))
		}
	}

	fmt.Fprintln(w)
}

func printable(b byte) string {
	if b < 0x20 || b > 0x7e {
		return "."
	}
	return string(rune(b))
}

// Instance dumps one object snapshot starting at its address, with the
// given spans highlighted and pointers checked against c.
func Instance(data []byte, base process.ProcessMemoryAddress, c AddressChecker, spans ...Span) string {
	o := DefaultOptions()
	o.Base = uint64(base)
	o.OffsetWidth = 12
	o.Pointers = c
	o.Spans = spans
	return Dump(data, o)
}
