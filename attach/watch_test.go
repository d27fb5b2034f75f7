package attach_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"monomem/attach"
)

func TestWatcherUpdate(t *testing.T) {
	w := attach.NewComparableWatcher[int]()
	if w.Seen() {
		t.Fatal("new watcher has seen a value")
	}

	steps := []struct {
		v       int
		changed bool
		old     int
	}{
		{0, true, 0},
		{0, false, 0},
		{5, true, 0},
		{5, false, 0},
		{7, true, 5},
	}
	for i, s := range steps {
		if got := w.Update(s.v); got != s.changed {
			t.Fatalf("step %d: Update(%d) = %v, want %v", i, s.v, got, s.changed)
		}
		if w.Current != s.v || w.Old != s.old {
			t.Fatalf("step %d: expected old %d current %d, got %d %d", i, s.old, s.v, w.Old, w.Current)
		}
	}
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errTransient := errors.New("transient")
	values := []int{1, 1, -1, 2, 2, 3}
	i := 0
	fn := func() (int, error) {
		if i >= len(values) {
			return values[len(values)-1], nil
		}
		v := values[i]
		i++
		if i == len(values) {
			cancel()
		}
		if v < 0 {
			return 0, errTransient
		}
		return v, nil
	}

	var seen [][2]int
	var errs []error
	w := attach.NewComparableWatcher[int]()
	err := attach.Watch(ctx, time.Millisecond, w, fn,
		func(old, cur int) { seen = append(seen, [2]int{old, cur}) },
		func(err error) error { errs = append(errs, err); return nil },
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	want := [][2]int{{0, 1}, {1, 2}, {2, 3}}
	if len(seen) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, seen)
	}
	for j := range want {
		if seen[j] != want[j] {
			t.Fatalf("expected changes %v, got %v", want, seen)
		}
	}
	if len(errs) != 1 || !errors.Is(errs[0], errTransient) {
		t.Fatalf("expected one transient error, got %v", errs)
	}
}

func TestWatchStopsWhenErrorHandlerDoes(t *testing.T) {
	stop := errors.New("stop")
	w := attach.NewComparableWatcher[int]()
	err := attach.Watch(context.Background(), time.Millisecond, w,
		func() (int, error) { return 0, errors.New("unreadable") },
		func(old, cur int) { t.Fatal("unexpected change") },
		func(error) error { return stop },
	)
	if !errors.Is(err, stop) {
		t.Fatalf("expected the handler's error, got %v", err)
	}
}
