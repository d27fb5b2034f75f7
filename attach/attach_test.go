package attach_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"monomem/attach"
	"monomem/binding"
	"monomem/mono"
	"monomem/mono/monotest"
	"monomem/process"
	"monomem/process_blob"
	"monomem/remote"
)

var managerSpec = monotest.ClassSpec{
	Namespace:    "Game",
	Name:         "GameManager",
	InstanceSize: 0x20,
	Fields: []monotest.FieldSpec{
		{Name: "Instance", Offset: 0, Type: mono.TypeClass, Static: true},
		{Name: "health", Offset: 0x10, Type: mono.TypeR4},
		{Name: "lives", Offset: 0x14, Type: mono.TypeI4},
	},
}

func managerLayouts() []*binding.Description {
	return []*binding.Description{
		binding.NewDescription("GameManager").Namespace("Game").
			Field("health", binding.KindF32).
			Field("shield", binding.KindF32).
			SingletonField("Instance"),
		binding.NewDescription("GameManager").Namespace("Game").
			Field("health", binding.KindF32).
			Field("lives", binding.KindI32).
			SingletonField("Instance"),
	}
}

func newSession(t *testing.T, fake *monotest.Runtime, layouts ...*binding.Description) *attach.Session {
	t.Helper()
	if len(layouts) == 0 {
		layouts = managerLayouts()
	}
	s, err := attach.NewSession(attach.Config{
		Profiles: []mono.Profile{fake.Profile},
		Image:    "Assembly-CSharp",
		Layouts:  layouts,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func expectState(t *testing.T, s *attach.Session, want attach.State) {
	t.Helper()
	if s.State() != want {
		t.Fatalf("expected state %s, got %s", want, s.State())
	}
}

// faultyTarget injects read faults while still resolving modules.
type faultyTarget struct {
	monotest.FaultyReader
	process.ModuleFinder
}

func newManager(fake *monotest.Runtime, c *monotest.Class, health float32, lives int32) process.ProcessMemoryAddress {
	inst := c.NewInstance()
	fake.Heap.PutF32(inst+0x10, health)
	fake.Heap.PutI32(inst+0x14, lives)
	return inst
}

func TestSessionWalksStates(t *testing.T) {
	for _, abi := range []mono.ABI{mono.ABILegacy, mono.ABIAOT} {
		t.Run(abi.String(), func(t *testing.T) {
			fake := monotest.NewRuntime(abi)
			s := newSession(t, fake)
			expectState(t, s, attach.Unattached)

			if err := s.Step(process_blob.NewProcessDump()); !errors.Is(err, mono.ErrModuleNotFound) {
				t.Fatalf("expected ErrModuleNotFound, got %v", err)
			}
			expectState(t, s, attach.Unattached)

			if err := s.Step(fake.Dump); err != nil {
				t.Fatal(err)
			}
			expectState(t, s, attach.ModuleFound)

			if err := s.Step(fake.Dump); !errors.Is(err, mono.ErrImageNotFound) {
				t.Fatalf("expected ErrImageNotFound, got %v", err)
			}
			expectState(t, s, attach.ModuleFound)

			class := fake.AddImage("Assembly-CSharp", 8).AddClass(managerSpec)

			if err := s.Step(fake.Dump); err != nil {
				t.Fatal(err)
			}
			expectState(t, s, attach.ImageFound)

			if err := s.Step(fake.Dump); err != nil {
				t.Fatal(err)
			}
			expectState(t, s, attach.ClassBound)
			if s.Layout != 1 {
				t.Fatalf("expected the second layout to bind, got %d", s.Layout)
			}

			if err := s.Step(fake.Dump); !errors.Is(err, mono.ErrNullInstance) {
				t.Fatalf("expected ErrNullInstance, got %v", err)
			}
			expectState(t, s, attach.ClassBound)

			inst := newManager(fake, class, 75.5, 3)
			class.SetStatic("Instance", uint64(inst))

			rec, err := s.Poll(fake.Dump)
			if err != nil {
				t.Fatal(err)
			}
			expectState(t, s, attach.Ready)
			if s.Instance.Addr() != inst {
				t.Fatalf("expected instance 0x%x, got %s", uint64(inst), s.Instance)
			}

			health, err := rec.Float32("health")
			if err != nil || health != 75.5 {
				t.Fatalf("expected health 75.5, got %v (%v)", health, err)
			}
			lives, err := rec.Int32("lives")
			if err != nil || lives != 3 {
				t.Fatalf("expected 3 lives, got %v (%v)", lives, err)
			}

			if err := s.Step(fake.Dump); err != nil {
				t.Fatalf("step while ready: %v", err)
			}
			expectState(t, s, attach.Ready)

			s.Reset()
			expectState(t, s, attach.Unattached)
			if s.Binding != nil || !s.Instance.IsNull() || s.Layout != -1 {
				t.Fatal("reset kept resolved state")
			}
		})
	}
}

func TestPollReReadsSingleton(t *testing.T) {
	fake := monotest.NewRuntime(mono.ABILegacy)
	class := fake.AddImage("Assembly-CSharp", 8).AddClass(managerSpec)
	first := newManager(fake, class, 10, 1)
	class.SetStatic("Instance", uint64(first))

	s := newSession(t, fake)
	if _, err := s.Poll(fake.Dump); err != nil {
		t.Fatal(err)
	}

	second := newManager(fake, class, 20, 2)
	class.SetStatic("Instance", uint64(second))

	faulty := faultyTarget{monotest.FaultyReader{R: fake.Dump, Addr: first, Len: 1}, fake.Dump}
	if _, err := s.Poll(faulty); !errors.Is(err, monotest.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	expectState(t, s, attach.ClassBound)

	rec, err := s.Poll(fake.Dump)
	if err != nil {
		t.Fatal(err)
	}
	if lives, _ := rec.Int32("lives"); lives != 2 {
		t.Fatalf("expected the replacement instance, got lives %d", lives)
	}
}

func TestPollFatalKeepsState(t *testing.T) {
	spec := managerSpec
	spec.InstanceSize = mono.MaxInstanceSize + 16

	fake := monotest.NewRuntime(mono.ABIAOT)
	class := fake.AddImage("Assembly-CSharp", 0).AddClass(spec)
	class.SetStatic("Instance", uint64(class.NewInstance()))

	s := newSession(t, fake)
	_, err := s.Poll(fake.Dump)
	if !errors.Is(err, mono.ErrInstanceTooLarge) {
		t.Fatalf("expected ErrInstanceTooLarge, got %v", err)
	}
	if !attach.IsFatal(err) {
		t.Fatal("expected a fatal error")
	}
	expectState(t, s, attach.Ready)
}

func TestSessionWithoutSingleton(t *testing.T) {
	fake := monotest.NewRuntime(mono.ABILegacy)
	class := fake.AddImage("Assembly-CSharp", 8).AddClass(managerSpec)

	desc := binding.NewDescription("GameManager").Namespace("Game").Field("lives", binding.KindI32)
	s := newSession(t, fake, desc)

	if err := s.SetInstance(remote.NewPtr[remote.Object](0x1234)); err == nil {
		t.Fatal("expected SetInstance to fail before the class is bound")
	}
	err := s.Attach(fake.Dump)
	if !errors.Is(err, attach.ErrNoSingleton) || !attach.IsFatal(err) {
		t.Fatalf("expected a fatal ErrNoSingleton, got %v", err)
	}
	expectState(t, s, attach.ClassBound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := attach.WaitReady(ctx, s, fake.Dump, time.Millisecond); !errors.Is(err, attach.ErrNoSingleton) {
		t.Fatalf("expected WaitReady to give up with ErrNoSingleton, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("expected WaitReady to return before the deadline")
	}

	bound := newSession(t, fake, desc)
	if err := bound.Bind(fake.Dump); err != nil {
		t.Fatal(err)
	}
	expectState(t, bound, attach.ClassBound)

	if err := s.SetInstance(remote.Ptr[remote.Object]{}); !errors.Is(err, remote.ErrNullPointer) {
		t.Fatalf("expected ErrNullPointer, got %v", err)
	}

	inst := newManager(fake, class, 0, 9)
	if err := s.SetInstance(remote.NewPtr[remote.Object](inst)); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Poll(fake.Dump)
	if err != nil {
		t.Fatal(err)
	}
	if lives, _ := rec.Int32("lives"); lives != 9 {
		t.Fatalf("expected 9 lives, got %d", lives)
	}
}

func TestNewSessionValidates(t *testing.T) {
	good := attach.Config{
		Profiles: []mono.Profile{{Module: "GameAssembly.dll", ABI: mono.ABIAOT}},
		Image:    "Assembly-CSharp",
		Layouts:  managerLayouts(),
	}

	tests := []struct {
		name   string
		mutate func(*attach.Config)
	}{
		{"no profiles", func(c *attach.Config) { c.Profiles = nil }},
		{"no image", func(c *attach.Config) { c.Image = "" }},
		{"no layouts", func(c *attach.Config) { c.Layouts = nil }},
		{"bad profile", func(c *attach.Config) { c.Profiles = []mono.Profile{{ABI: mono.ABIAOT}} }},
		{"bad layout", func(c *attach.Config) { c.Layouts = []*binding.Description{binding.NewDescription("X")} }},
	}

	if _, err := attach.NewSession(good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good
			tt.mutate(&cfg)
			if _, err := attach.NewSession(cfg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestWaitReady(t *testing.T) {
	fake := monotest.NewRuntime(mono.ABIAOT)
	class := fake.AddImage("Assembly-CSharp", 0).AddClass(managerSpec)
	s := newSession(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := attach.WaitReady(ctx, s, fake.Dump, time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, mono.ErrNullInstance) {
		t.Fatalf("expected deadline joined with ErrNullInstance, got %v", err)
	}

	class.SetStatic("Instance", uint64(newManager(fake, class, 1, 1)))
	if err := attach.WaitReady(context.Background(), s, fake.Dump, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	expectState(t, s, attach.Ready)
}
