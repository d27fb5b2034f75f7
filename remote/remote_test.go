package remote_test

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	"monomem/mono/monotest"
	"monomem/process"
	"monomem/process_blob"
	"monomem/remote"
)

const heapBase = process.ProcessMemoryAddress(0x10000)

func newHeap(t *testing.T, size int) (*monotest.Heap, *process_blob.ProcessDump) {
	t.Helper()
	h := monotest.NewHeap(heapBase, size)
	dump := process_blob.NewProcessDump()
	if err := dump.AddRegion(heapBase, h.Bytes(), "rw-p"); err != nil {
		t.Fatal(err)
	}
	return h, dump
}

// countingReader counts reads issued to the wrapped reader.
type countingReader struct {
	process.Reader
	reads int
}

func (c *countingReader) ReadMemoryInto(addr process.ProcessMemoryAddress, buf []byte) error {
	c.reads++
	return c.Reader.ReadMemoryInto(addr, buf)
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) ([]T, error) {
	t.Helper()
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestNullPointerIssuesNoRead(t *testing.T) {
	_, dump := newHeap(t, 64)
	r := &countingReader{Reader: dump}

	var p remote.Ptr[uint64]
	if !p.IsNull() {
		t.Fatal("zero Ptr is not null")
	}
	if _, err := p.Read(r); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("Read: expected ErrNullPointer, got %v", err)
	}
	if _, err := p.ReadAt(r, 3); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("ReadAt: expected ErrNullPointer, got %v", err)
	}
	if _, err := remote.ReadString(r, remote.Ptr[remote.CStr]{}); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("ReadString: expected ErrNullPointer, got %v", err)
	}
	if r.reads != 0 {
		t.Fatalf("expected no reads, got %d", r.reads)
	}
	if p.String() != "NULL" {
		t.Fatalf("expected NULL, got %s", p.String())
	}
}

func TestPointerArithmetic(t *testing.T) {
	p := remote.NewPtr[uint32](0x1000)
	if got := p.Offset(3).Addr(); got != 0x100c {
		t.Fatalf("Offset: expected 0x100c, got 0x%x", uint64(got))
	}
	if got := p.ByteOffset(3).Addr(); got != 0x1003 {
		t.Fatalf("ByteOffset: expected 0x1003, got 0x%x", uint64(got))
	}
	if got := remote.Cast[uint64](p).Offset(1).Addr(); got != 0x1008 {
		t.Fatalf("Cast: expected 0x1008, got 0x%x", uint64(got))
	}
	if p.String() != "0x1000" {
		t.Fatalf("expected 0x1000, got %s", p.String())
	}
}

func TestDeref(t *testing.T) {
	h, dump := newHeap(t, 64)
	slot := h.Alloc(8, 8)
	target := h.Alloc(4, 4)
	h.PutU32(target, 0xdeadbeef)

	pp := remote.NewPtr[remote.Ptr[uint32]](slot)
	if _, err := remote.Deref(dump, pp); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("expected ErrNullPointer for a null slot, got %v", err)
	}

	h.PutPtr(slot, target)
	p, err := remote.Deref(dump, pp)
	if err != nil {
		t.Fatal(err)
	}
	v, err := p.Read(dump)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("expected 0xdeadbeef, got 0x%x", v)
	}
}

func TestReadSlice(t *testing.T) {
	h, dump := newHeap(t, 64)
	arr := h.Alloc(16, 8)
	for i := 0; i < 4; i++ {
		h.PutU32(arr+process.ProcessMemoryAddress(4*i), uint32(10*i))
	}

	r := &countingReader{Reader: dump}
	vals, err := remote.NewPtr[uint32](arr).ReadSlice(r, 4)
	if err != nil {
		t.Fatal(err)
	}
	if r.reads != 1 {
		t.Fatalf("expected one read, got %d", r.reads)
	}
	for i, v := range vals {
		if v != uint32(10*i) {
			t.Fatalf("element %d: expected %d, got %d", i, 10*i, v)
		}
	}
}

func TestReadStringIndependentOfChunking(t *testing.T) {
	h, dump := newHeap(t, 1<<14)
	h.Alloc(4090, 1) // start the string a few bytes before a page boundary
	want := "UnityEngine.CoreModule.SomeRatherLongClassName"
	p := remote.NewPtr[remote.CStr](h.CString(want))

	for _, page := range []uint64{1, 16, 4096} {
		for _, chunk := range []uint64{1, 3, 256} {
			sr := remote.StringReader{PageSize: page, ChunkLimit: chunk, MaxLen: 1024}
			var got string
			err := sr.Scan(dump, p, func(b []byte) error {
				got = string(b)
				return nil
			})
			if err != nil {
				t.Fatalf("page %d chunk %d: %v", page, chunk, err)
			}
			if got != want {
				t.Fatalf("page %d chunk %d: expected %q, got %q", page, chunk, want, got)
			}
		}
	}
}

func TestReadStringTerminatorOnPageBoundary(t *testing.T) {
	want := "UnityEngine.CoreModule"
	h, dump := newHeap(t, 8192)
	h.Alloc(4096-len(want), 1)
	p := remote.NewPtr[remote.CStr](h.CString(want))
	if nul := p.Addr() + process.ProcessMemoryAddress(len(want)); nul != heapBase+4096 {
		t.Fatalf("NUL at 0x%x, expected 0x%x", uint64(nul), uint64(heapBase+4096))
	}

	for _, page := range []uint64{4096, 256} {
		r := &countingReader{Reader: dump}
		sr := remote.StringReader{PageSize: page, ChunkLimit: 256, MaxLen: 1024}
		var got string
		err := sr.Scan(r, p, func(b []byte) error {
			got = string(b)
			return nil
		})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if got != want {
			t.Fatalf("page %d: expected %q, got %q", page, want, got)
		}
		// the text fills the rest of the first page; the NUL is found by
		// the first read of the next one
		if r.reads != 2 {
			t.Fatalf("page %d: expected 2 reads, got %d", page, r.reads)
		}
	}
}

func TestReadStringEndsAtRegionEnd(t *testing.T) {
	// 4 KiB region followed by nothing: the NUL is the last mapped byte.
	h, dump := newHeap(t, 4096)
	h.Alloc(4096-6, 1)
	p := remote.NewPtr[remote.CStr](h.CString("hello"))

	s, err := remote.ReadString(dump, p)
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Fatalf("expected hello, got %q", s)
	}
}

func TestReadStringUnterminatedAtRegionEnd(t *testing.T) {
	h, dump := newHeap(t, 4096)
	start := h.Alloc(4, 1)
	h.Put(start, []byte("abcd"))
	for a := start + 4; a < heapBase+4096; a++ {
		h.PutU8(a, 'x')
	}

	_, err := remote.ReadString(dump, remote.NewPtr[remote.CStr](start))
	if !errors.Is(err, process.ErrAddressNotMapped) {
		t.Fatalf("expected ErrAddressNotMapped, got %v", err)
	}
}

func TestReadStringTooLong(t *testing.T) {
	h, dump := newHeap(t, 64)
	sr := remote.StringReader{PageSize: 4096, ChunkLimit: 256, MaxLen: 8}

	fits := remote.NewPtr[remote.CStr](h.CString("1234567"))
	if err := sr.Scan(dump, fits, func([]byte) error { return nil }); err != nil {
		t.Fatalf("7-byte string with MaxLen 8: %v", err)
	}

	long := remote.NewPtr[remote.CStr](h.CString("12345678"))
	err := sr.Scan(dump, long, func([]byte) error { return nil })
	if !errors.Is(err, remote.ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
}

func TestStringReaderRejectsBadPageSize(t *testing.T) {
	h, dump := newHeap(t, 64)
	p := remote.NewPtr[remote.CStr](h.CString("x"))
	sr := remote.StringReader{PageSize: 3000, ChunkLimit: 16, MaxLen: 16}
	if err := sr.Scan(dump, p, func([]byte) error { return nil }); err == nil {
		t.Fatal("expected an error for a non power of two page size")
	}
}

func TestEqualString(t *testing.T) {
	h, dump := newHeap(t, 64)
	p := remote.NewPtr[remote.CStr](h.CString("Player"))

	for _, tc := range []struct {
		s    string
		want bool
	}{
		{"Player", true},
		{"Playe", false},
		{"PlayerX", false},
		{"", false},
	} {
		got, err := remote.EqualString(dump, p, tc.s)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("EqualString(%q): expected %v, got %v", tc.s, tc.want, got)
		}
	}
}

func putList(h *monotest.Heap, items ...process.ProcessMemoryAddress) process.ProcessMemoryAddress {
	var head, prev process.ProcessMemoryAddress
	for _, item := range items {
		node := h.Alloc(24, 8)
		h.PutPtr(node, item)
		if prev == 0 {
			head = node
		} else {
			h.PutPtr(prev+8, node)
			h.PutPtr(node+16, prev)
		}
		prev = node
	}
	return head
}

func TestListItems(t *testing.T) {
	h, dump := newHeap(t, 256)
	head := putList(h, 0x111, 0x222, 0x333)

	items, err := collect(t, remote.ListItems(dump, remote.NewPtr[remote.GList[remote.Object]](head)))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []process.ProcessMemoryAddress{0x111, 0x222, 0x333} {
		if items[i].Addr() != want {
			t.Errorf("item %d: expected 0x%x, got %s", i, uint64(want), items[i])
		}
	}

	empty, err := collect(t, remote.ListItems(dump, remote.Ptr[remote.GList[remote.Object]]{}))
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty list: got %d items, err %v", len(empty), err)
	}
}

func TestListItemsStopsEarly(t *testing.T) {
	h, dump := newHeap(t, 256)
	head := putList(h, 0x111, 0x222, 0x333)
	r := &countingReader{Reader: dump}

	for range remote.ListItems(r, remote.NewPtr[remote.GList[remote.Object]](head)) {
		break
	}
	if r.reads != 1 {
		t.Fatalf("expected one node read, got %d", r.reads)
	}
}

func TestListItemsCycle(t *testing.T) {
	h, dump := newHeap(t, 256)
	head := putList(h, 0x111, 0x222)
	h.PutPtr(head+24+8, head) // second node points back at the first

	_, err := collect(t, remote.ListItems(dump, remote.NewPtr[remote.GList[remote.Object]](head)))
	if !errors.Is(err, remote.ErrChainTooLong) {
		t.Fatalf("expected ErrChainTooLong, got %v", err)
	}
}

type node struct {
	Value uint64
	Next  remote.Ptr[node]
}

func nodeNext(n node) remote.Ptr[node] { return n.Next }

func putChain(h *monotest.Heap, values ...uint64) process.ProcessMemoryAddress {
	var head, prev process.ProcessMemoryAddress
	for _, v := range values {
		n := h.Alloc(16, 8)
		h.PutU64(n, v)
		if prev == 0 {
			head = n
		} else {
			h.PutPtr(prev+8, n)
		}
		prev = n
	}
	return head
}

func TestChainedVisitsEveryEntryInOrder(t *testing.T) {
	h, dump := newHeap(t, 1024)
	table := h.Alloc(4*8, 8)
	h.PutPtr(table+8, putChain(h, 10, 11))
	h.PutPtr(table+24, putChain(h, 30))

	entries, err := collect(t, remote.Chained(dump, remote.NewPtr[remote.Ptr[node]](table), 4, nodeNext))
	if err != nil {
		t.Fatal(err)
	}

	var got []uint64
	for _, e := range entries {
		got = append(got, e.Value.Value)
	}
	want := []uint64{10, 11, 30}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestChainedNullTable(t *testing.T) {
	_, dump := newHeap(t, 64)

	_, err := collect(t, remote.Chained(dump, remote.Ptr[remote.Ptr[node]]{}, 4, nodeNext))
	if !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("expected ErrNullPointer, got %v", err)
	}

	entries, err := collect(t, remote.Chained(dump, remote.Ptr[remote.Ptr[node]]{}, 0, nodeNext))
	if err != nil || len(entries) != 0 {
		t.Fatalf("zero buckets: got %d entries, err %v", len(entries), err)
	}
}

func TestChainedReadFailureEndsWalk(t *testing.T) {
	h, dump := newHeap(t, 1024)
	table := h.Alloc(3*8, 8)
	h.PutPtr(table, putChain(h, 1))
	h.PutPtr(table+8, 0x7f0000000000) // unmapped node
	h.PutPtr(table+16, putChain(h, 3))

	var values []uint64
	errs := 0
	for e, err := range remote.Chained(dump, remote.NewPtr[remote.Ptr[node]](table), 3, nodeNext) {
		if err != nil {
			errs++
			if !errors.Is(err, process.ErrAddressNotMapped) {
				t.Fatalf("expected ErrAddressNotMapped, got %v", err)
			}
			continue
		}
		values = append(values, e.Value.Value)
	}
	if errs != 1 || len(values) != 1 || values[0] != 1 {
		t.Fatalf("expected one value then one error, got %v and %d errors", values, errs)
	}
}

func TestStrHash(t *testing.T) {
	for _, tc := range []struct {
		s    string
		want uint32
	}{
		{"", 0},
		{"a", 0},
		{"ab", 0xFFFFF422},
	} {
		if got := remote.StrHash(tc.s); got != tc.want {
			t.Errorf("StrHash(%q): expected 0x%x, got 0x%x", tc.s, tc.want, got)
		}
	}
}

func TestLookup(t *testing.T) {
	h, dump := newHeap(t, 1024)
	const size = 5

	table := h.Alloc(size*8, 8)
	heads := make(map[uint32]process.ProcessMemoryAddress)
	put := func(key string, value process.ProcessMemoryAddress) {
		bucket := remote.StrHash(key) % size
		slot := h.Alloc(24, 8)
		h.PutPtr(slot, h.CString(key))
		h.PutPtr(slot+8, value)
		h.PutPtr(slot+16, heads[bucket])
		heads[bucket] = slot
		h.PutPtr(table+process.ProcessMemoryAddress(8*bucket), slot)
	}
	put("Assembly-CSharp", 0xa000)
	put("UnityEngine", 0xb000)
	put("mscorlib", 0xc000)

	ht := remote.GHashTable[remote.CStr, remote.Object]{
		Table:     remote.NewPtr[remote.Ptr[remote.Slot[remote.CStr, remote.Object]]](table),
		TableSize: size,
	}

	v, ok, err := remote.Lookup(dump, ht, "UnityEngine")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v.Addr() != 0xb000 {
		t.Fatalf("expected 0xb000, got %s (found %v)", v, ok)
	}

	if _, ok, err := remote.Lookup(dump, ht, "System"); err != nil || ok {
		t.Fatalf("missing key: found %v, err %v", ok, err)
	}

	pairs, err := collect(t, ht.Pairs(dump))
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
}

func ExampleReadString() {
	h := monotest.NewHeap(0x10000, 64)
	dump := process_blob.NewProcessDump()
	if err := dump.AddRegion(0x10000, h.Bytes(), "r--p"); err != nil {
		panic(err)
	}

	p := remote.NewPtr[remote.CStr](h.CString("Assembly-CSharp"))
	s, err := remote.ReadString(dump, p)
	if err != nil {
		panic(err)
	}
	fmt.Println(s, p)

	// Output: Assembly-CSharp 0x10000
}
