package attach

import (
	"context"
	"fmt"
	"time"
)

// Watcher remembers the last value seen and reports when it changes.
type Watcher[T any] struct {
	equal func(a, b T) bool

	Old     T
	Current T
	seen    bool
}

// NewWatcher uses equal to compare successive values.
func NewWatcher[T any](equal func(a, b T) bool) *Watcher[T] {
	return &Watcher[T]{equal: equal}
}

// NewComparableWatcher compares with ==.
func NewComparableWatcher[T comparable]() *Watcher[T] {
	return NewWatcher(func(a, b T) bool { return a == b })
}

// Update stores v and reports whether it differs from the previous value.
// The first value always counts as a change.
func (w *Watcher[T]) Update(v T) bool {
	if w.seen && w.equal(w.Current, v) {
		return false
	}
	w.Old, w.Current = w.Current, v
	w.seen = true
	return true
}

// Seen reports whether Update has been called.
func (w *Watcher[T]) Seen() bool {
	return w.seen
}

// Watch polls fn every interval until ctx is done and calls changed for
// every value that differs from the last. Errors from fn are handed to
// onErr; a fatal error, or any error onErr returns, stops the watch.
func Watch[T any](ctx context.Context, interval time.Duration, w *Watcher[T], fn func() (T, error), changed func(old, cur T), onErr func(error) error) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := fn()
		switch {
		case err != nil:
			if IsFatal(err) {
				return err
			}
			if onErr != nil {
				if err := onErr(err); err != nil {
					return err
				}
			}
		case w.Update(v):
			changed(w.Old, w.Current)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
