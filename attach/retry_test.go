package attach_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"monomem/attach"
	"monomem/mono"
	"monomem/process"
	"monomem/process_blob"
)

var errNotYet = errors.New("not yet")

func TestRetry(t *testing.T) {
	calls := 0
	err := attach.Retry(context.Background(), time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errNotYet
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnFatal(t *testing.T) {
	calls := 0
	err := attach.Retry(context.Background(), time.Millisecond, func() error {
		calls++
		return fmt.Errorf("class table: %w", mono.ErrCorruptMetadata)
	})
	if !errors.Is(err, mono.ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := attach.Retry(ctx, time.Hour, func() error { return errNotYet })
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errNotYet) {
		t.Fatalf("expected cancellation joined with the last error, got %v", err)
	}

	if err := attach.Retry(context.Background(), 0, func() error { return nil }); err == nil {
		t.Fatal("expected an error for a zero interval")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{mono.ErrInstanceTooLarge, true},
		{fmt.Errorf("x: %w", mono.ErrCorruptMetadata), true},
		{mono.ErrProfileIncomplete, true},
		{attach.ErrPermanent, true},
		{mono.ErrClassNotFound, false},
		{mono.ErrNullInstance, false},
		{process.ErrAddressNotMapped, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := attach.IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

type lateOpener struct {
	misses int
	dump   *process_blob.ProcessDump
}

func (o *lateOpener) OpenPID(pid process.ProcessID) (process.Process, error) {
	return nil, errors.New("not supported")
}

func (o *lateOpener) OpenProcessByName(name string) (process.Process, error) {
	if o.misses > 0 {
		o.misses--
		return nil, fmt.Errorf("no process found with name '%s'", name)
	}
	return o.dump, nil
}

func TestWaitProcess(t *testing.T) {
	opener := &lateOpener{misses: 2, dump: process_blob.NewProcessDump()}
	p, err := attach.WaitProcess(context.Background(), opener, "game.exe", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if p != process.Process(opener.dump) {
		t.Fatal("expected the opened dump")
	}
	if opener.misses != 0 {
		t.Fatalf("expected every miss consumed, %d left", opener.misses)
	}
}
