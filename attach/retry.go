package attach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"monomem/mono"
	"monomem/process"
)

// ErrPermanent marks an error returned from a Retry callback as final.
var ErrPermanent = errors.New("permanent failure")

// IsFatal reports whether err means the layout model does not match the
// target, so retrying cannot succeed.
func IsFatal(err error) bool {
	return errors.Is(err, mono.ErrInstanceTooLarge) ||
		errors.Is(err, mono.ErrCorruptMetadata) ||
		errors.Is(err, mono.ErrProfileIncomplete) ||
		errors.Is(err, ErrPermanent)
}

// Retry calls fn until it returns nil, returns a fatal error, or ctx is done.
// fn runs once immediately and then every interval. The last error from fn
// is joined with the context error on cancellation.
func Retry(ctx context.Context, interval time.Duration, fn func() error) error {
	if interval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := fn()
		if err == nil || IsFatal(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// WaitProcess opens the named process, retrying until it exists.
func WaitProcess(ctx context.Context, opener process.ProcessOpener, name string, interval time.Duration) (process.Process, error) {
	var p process.Process
	err := Retry(ctx, interval, func() error {
		var err error
		p, err = opener.OpenProcessByName(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WaitReady polls s.Attach until the session is Ready. A layout without a
// singleton ends the wait at once with ErrNoSingleton.
func WaitReady(ctx context.Context, s *Session, t Target, interval time.Duration) error {
	return Retry(ctx, interval, func() error {
		err := s.Attach(t)
		if err != nil && !IsFatal(err) {
			s.log.Debugln("waiting in", s.state, err)
		}
		return err
	})
}
