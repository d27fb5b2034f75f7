// Package mono reads the type metadata of a Mono or IL2CPP runtime living
// in another process.
//
// Two binary layouts are supported. ABILegacy is the embedded Mono runtime
// (mono-2.0-bdwgc); ABIAOT is the IL2CPP ahead-of-time runtime
// (GameAssembly). Both expose the same model: a Runtime lists Images, an
// Image lists Classes, a Class lists Fields and can find its static
// singleton and snapshot an instance.
//
// Nothing in this package retries or caches. Any read may fail while the
// target is starting up; callers poll (see package attach).
package mono

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModuleNotFound = errors.New("runtime module not found")
	ErrImageNotFound  = errors.New("image not found")
	ErrClassNotFound  = errors.New("class not found")
	ErrFieldNotFound  = errors.New("field not found")

	// ErrNullInstance means a static singleton field exists but is still null.
	ErrNullInstance = errors.New("singleton instance is null")

	// ErrInstanceTooLarge means a class claims an instance size above
	// MaxInstanceSize. The layout model does not match the target; retrying
	// will not help.
	ErrInstanceTooLarge = errors.New("instance size exceeds snapshot buffer")

	// ErrCorruptMetadata is returned for counts no real runtime produces.
	ErrCorruptMetadata = errors.New("corrupt metadata")
)

// MaxInstanceSize is the largest instance GetInstance will snapshot.
const MaxInstanceSize = 4 << 10

// Sanity bounds on counts read from the target.
const (
	maxFieldCount  = 1 << 14
	maxBucketCount = 1 << 20
	maxTypeCount   = 1 << 20
	maxImageCount  = 1 << 14
)

// ABI selects the binary layout of the runtime's metadata structures.
type ABI int

const (
	ABILegacy ABI = iota
	ABIAOT
)

func (a ABI) String() string {
	switch a {
	case ABILegacy:
		return "mono"
	case ABIAOT:
		return "il2cpp"
	}
	return fmt.Sprintf("ABI(%d)", int(a))
}

// ParseABI accepts "mono"/"legacy" and "il2cpp"/"aot".
func ParseABI(s string) (ABI, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mono", "legacy":
		return ABILegacy, nil
	case "il2cpp", "aot":
		return ABIAOT, nil
	}
	return 0, fmt.Errorf("unknown ABI %q (want mono or il2cpp)", s)
}

func (a ABI) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ABI) UnmarshalText(text []byte) error {
	v, err := ParseABI(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func corrupt(what string, n int64) error {
	return fmt.Errorf("%s %d: %w", what, n, ErrCorruptMetadata)
}
