package search

import (
	"errors"
	"slices"
	"testing"

	"monomem/mono"
	"monomem/mono/monotest"
	"monomem/process"
	"monomem/process/memory_map"
	"monomem/process_blob"
	"monomem/remote"
)

func TestWords(t *testing.T) {
	dump := process_blob.NewProcessDump()
	rw := make([]byte, 256)
	ro := make([]byte, 64)
	put := func(buf []byte, off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	put(rw, 0x08, 0xdeadbeef)
	put(rw, 0x84, 0xdeadbeef) // unaligned
	put(rw, 0xf8, 0xdeadbeef)
	put(ro, 0x10, 0xdeadbeef)

	if err := dump.AddRegion(0x10000, rw, "rw-p"); err != nil {
		t.Fatal(err)
	}
	if err := dump.AddRegion(0x20000, ro, "r--p"); err != nil {
		t.Fatal(err)
	}

	got, err := Words(dump, 0xdeadbeef, WithChunkSize(64))
	if err != nil {
		t.Fatal(err)
	}
	want := []process.ProcessMemoryAddress{0x10008, 0x100f8}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got, err = Words(dump, 0xdeadbeef, WithMaxResults(1))
	if err != nil || len(got) != 1 || got[0] != 0x10008 {
		t.Fatalf("expected only the first match, got %v (%v)", got, err)
	}

	all := func(memory_map.MemoryMapItem) bool { return true }
	got, err = Words(dump, 0xdeadbeef, WithFilter(all))
	if err != nil || !slices.Contains(got, 0x20010) {
		t.Fatalf("expected the read-only match with a permissive filter, got %v (%v)", got, err)
	}

	got, err = Words(dump, 0xdeadbeef, WithMaxRegion(128))
	if err != nil || len(got) != 0 {
		t.Fatalf("expected the large region skipped, got %v (%v)", got, err)
	}
}

func TestSearcherOptions(t *testing.T) {
	dump := process_blob.NewProcessDump()
	for i, opts := range [][]Option{
		{WithAlignment(4)},
		{WithAlignment(24)},
		{WithChunkSize(12)},
	} {
		if _, err := Words(dump, 1, opts...); err == nil {
			t.Fatalf("expected option set %d to be rejected", i)
		}
	}
}

func TestInstances(t *testing.T) {
	for _, abi := range []mono.ABI{mono.ABILegacy, mono.ABIAOT} {
		t.Run(abi.String(), func(t *testing.T) {
			fake := monotest.NewRuntime(abi)
			fimg := fake.AddImage("Assembly-CSharp", 4)
			enemy := fimg.AddClass(monotest.ClassSpec{
				Name:         "Enemy",
				InstanceSize: 0x18,
				Fields:       []monotest.FieldSpec{{Name: "hp", Offset: 0x10, Type: mono.TypeI4}},
			})
			fimg.AddClass(monotest.ClassSpec{Name: "Other", InstanceSize: 0x10})

			a := enemy.NewInstance()
			b := enemy.NewInstance()

			rt, err := mono.Locate(fake.Dump, fake.Profile)
			if err != nil {
				t.Fatal(err)
			}
			img, err := rt.FindImage(fake.Dump, "Assembly-CSharp")
			if err != nil {
				t.Fatal(err)
			}
			class, err := img.FindClass(fake.Dump, "", "Enemy")
			if err != nil {
				t.Fatal(err)
			}

			found, err := Instances(fake.Dump, class)
			if err != nil {
				t.Fatal(err)
			}
			for _, inst := range []process.ProcessMemoryAddress{a, b} {
				if !slices.Contains(found, remote.NewPtr[remote.Object](inst)) {
					t.Fatalf("instance 0x%x not found in %v", uint64(inst), found)
				}
			}
			if slices.Contains(found, remote.NewPtr[remote.Object](enemy.FieldEntry(0)+16)) {
				t.Fatal("field table entry reported as an instance")
			}
		})
	}
}

func TestInstancesUninitializedClass(t *testing.T) {
	fake := monotest.NewRuntime(mono.ABILegacy)
	fake.AddImage("Assembly-CSharp", 4).AddClass(monotest.ClassSpec{Name: "Lazy", InstanceSize: 0x10, Uninitialized: true})

	rt, err := mono.Locate(fake.Dump, fake.Profile)
	if err != nil {
		t.Fatal(err)
	}
	img, err := rt.FindImage(fake.Dump, "Assembly-CSharp")
	if err != nil {
		t.Fatal(err)
	}
	class, err := img.FindClass(fake.Dump, "", "Lazy")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Instances(fake.Dump, class); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("expected ErrNullPointer, got %v", err)
	}
}

func TestReferences(t *testing.T) {
	if _, err := References(process_blob.NewProcessDump(), remote.Ptr[remote.Object]{}); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("expected ErrNullPointer, got %v", err)
	}
}
