package hexdump

import (
	"strings"
	"testing"

	"monomem/process_blob"

	"github.com/fatih/color"
)

func withColor(t *testing.T, enabled bool) {
	t.Helper()
	saved := color.NoColor
	color.NoColor = !enabled
	t.Cleanup(func() { color.NoColor = saved })
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func TestDumpLayout(t *testing.T) {
	withColor(t, false)

	data := append([]byte("Hello, world!!!!"), 0, 0, 0, 0)
	o := DefaultOptions()
	o.Base = 0x1000

	got := lines(Dump(data, o))
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(got), got)
	}

	want0 := "00001000  48 65 6c 6c 6f 2c 20 77 | 6f 72 6c 64 21 21 21 21 | Hello, w orld!!!!"
	if got[0] != want0 {
		t.Fatalf("line 0:\n got %q\nwant %q", got[0], want0)
	}

	want1 := "00001010  00 00 00 00" + strings.Repeat(" ", 12) + " |   " + strings.Repeat(" ", 21) + " | ...."
	if got[1] != want1 {
		t.Fatalf("line 1:\n got %q\nwant %q", got[1], want1)
	}
	if strings.Index(got[0], "| H") != strings.Index(got[1], "| .") {
		t.Fatal("ASCII column not aligned on the short line")
	}
}

func TestDumpMaxLines(t *testing.T) {
	withColor(t, false)

	o := DefaultOptions()
	o.MaxLines = 1
	got := lines(Dump(make([]byte, 48), o))
	if len(got) != 2 || got[1] != "... 32 more bytes" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestDumpPointers(t *testing.T) {
	withColor(t, false)

	dump := process_blob.NewProcessDump()
	if err := dump.AddRegion(0x20000, make([]byte, 0x100), "rw-p"); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 16)
	data[0], data[1], data[2] = 0x10, 0x00, 0x02 // 0x20010
	data[8] = 0x99

	got := lines(Instance(data, 0x20000, dump))
	if !strings.HasSuffix(got[0], " | 0x20010") {
		t.Fatalf("expected the mapped pointer only, got %q", got[0])
	}
	if !strings.HasPrefix(got[0], "000000020000  ") {
		t.Fatalf("expected a 12-digit address column, got %q", got[0])
	}
}

func TestDumpHighlightsSpans(t *testing.T) {
	withColor(t, true)

	hl := color.New(color.FgRed)
	o := Options{
		BytesPerLine: 8,
		ShowASCII:    true,
		Spans:        []Span{{Start: 2, Len: 2}},
		Colors:       Palette{Highlight: hl},
	}

	got := Dump([]byte("abcdefgh"), o)
	for _, want := range []string{hl.Sprint("63"), hl.Sprint("64"), hl.Sprint("c"), hl.Sprint("d")} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, hl.Sprint("65")) {
		t.Fatalf("byte past the span was highlighted: %q", got)
	}
}
