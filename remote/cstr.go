package remote

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"monomem/process"
)

// ErrStringTooLong is returned when no NUL is found within StringReader.MaxLen bytes.
var ErrStringTooLong = errors.New("string exceeds maximum length")

// CStr tags the first byte of a NUL-terminated string of unknown length.
type CStr struct{}

// StringReader scans NUL-terminated strings in bounded chunks.
// A chunk never crosses a PageSize boundary, so a string that ends just
// before an unmapped page is still readable.
type StringReader struct {
	PageSize   uint64 // power of two
	ChunkLimit uint64 // largest single read
	MaxLen     uint64 // strings longer than this fail with ErrStringTooLong
}

var DefaultStringReader = StringReader{
	PageSize:   4 << 10,
	ChunkLimit: 256,
	MaxLen:     32 << 10,
}

var stringBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultStringReader.MaxLen)
		return &buf
	},
}

func (sr StringReader) validate() error {
	switch {
	case sr.PageSize == 0 || sr.PageSize&(sr.PageSize-1) != 0:
		return fmt.Errorf("page size %d is not a power of two", sr.PageSize)
	case sr.ChunkLimit == 0:
		return errors.New("chunk limit must be positive")
	case sr.MaxLen == 0:
		return errors.New("max length must be positive")
	}
	return nil
}

// Scan reads the string at p and passes its bytes (without the NUL) to fn.
// The slice is a pooled local buffer that is only valid during the call.
// A failed chunk read fails the whole scan.
func (sr StringReader) Scan(r process.Reader, p Ptr[CStr], fn func([]byte) error) error {
	if err := sr.validate(); err != nil {
		return err
	}
	if p.IsNull() {
		return ErrNullPointer
	}

	var buf []byte
	if sr.MaxLen == DefaultStringReader.MaxLen {
		pooled := stringBufferPool.Get().(*[]byte)
		defer stringBufferPool.Put(pooled)
		buf = *pooled
	} else {
		buf = make([]byte, sr.MaxLen)
	}

	cursor := p.addr
	var filled uint64
	for filled < sr.MaxLen {
		chunk := min(process.AlignUp(cursor+1, sr.PageSize)-cursor, sr.ChunkLimit, sr.MaxLen-filled)

		window := buf[filled : filled+chunk]
		if err := r.ReadMemoryInto(process.ProcessMemoryAddress(cursor), window); err != nil {
			return fmt.Errorf("string at %s: %w", p, err)
		}

		if i := bytes.IndexByte(window, 0); i >= 0 {
			return fn(buf[:filled+uint64(i)])
		}

		filled += chunk
		cursor += chunk
	}

	return fmt.Errorf("string at %s: %w", p, ErrStringTooLong)
}

// WithCString scans p with DefaultStringReader and returns fn's result.
func WithCString[R any](r process.Reader, p Ptr[CStr], fn func([]byte) R) (R, error) {
	var result R
	err := DefaultStringReader.Scan(r, p, func(b []byte) error {
		result = fn(b)
		return nil
	})
	return result, err
}

// ReadString copies the string at p.
func ReadString(r process.Reader, p Ptr[CStr]) (string, error) {
	return WithCString(r, p, func(b []byte) string {
		return string(b)
	})
}

// EqualString compares the string at p with s without allocating.
func EqualString(r process.Reader, p Ptr[CStr], s string) (bool, error) {
	return WithCString(r, p, func(b []byte) bool {
		return string(b) == s
	})
}
