package binding

import (
	"fmt"
	"strings"

	"monomem/pod"
	"monomem/process"
	"monomem/process_blob"
	"monomem/remote"
)

// Record holds the decoded field bytes of one instance. It owns its copy;
// the snapshot it was cut from is already gone.
type Record struct {
	Instance remote.Ptr[remote.Object]

	binding *RecordBinding
	data    []byte
	starts  []int // start of field i in data
}

// Decode takes one snapshot of inst and cuts every bound field out of it.
// A field that does not fit in the snapshot fails the whole record with
// ErrDecode. Read failures and mono.ErrInstanceTooLarge are passed through.
func (rb *RecordBinding) Decode(r process.Reader, inst remote.Ptr[remote.Object]) (Record, error) {
	rec := Record{Instance: inst, binding: rb, starts: make([]int, len(rb.Fields))}

	err := rb.Class.GetInstance(r, inst, func(snap *process_blob.ProcessBlob) error {
		return rec.fill(snap)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DecodeBlob decodes from a snapshot taken elsewhere, e.g. by a caller that
// also wants the raw bytes.
func (rb *RecordBinding) DecodeBlob(snap *process_blob.ProcessBlob) (Record, error) {
	rec := Record{
		Instance: remote.NewPtr[remote.Object](snap.Base()),
		binding:  rb,
		starts:   make([]int, len(rb.Fields)),
	}
	if err := rec.fill(snap); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (rec *Record) fill(snap *process_blob.ProcessBlob) error {
	total := 0
	for _, f := range rec.binding.Fields {
		total += f.Size
	}

	data := make([]byte, 0, total)
	for i, f := range rec.binding.Fields {
		b, err := snap.Field(int64(f.Offset), f.Size)
		if err != nil {
			return fmt.Errorf("%w: field %q at +0x%x: %w", ErrDecode, f.Name, f.Offset, err)
		}
		rec.starts[i] = len(data)
		data = append(data, b...)
	}
	rec.data = data
	return nil
}

func (rec Record) Binding() *RecordBinding {
	return rec.binding
}

// Names lists the fields in declaration order.
func (rec Record) Names() []string {
	if rec.binding == nil {
		return nil
	}
	names := make([]string, len(rec.binding.Fields))
	for i, f := range rec.binding.Fields {
		names[i] = f.Name
	}
	return names
}

func (rec Record) raw(name string, kinds ...Kind) ([]byte, FieldBinding, error) {
	if rec.binding == nil || rec.data == nil {
		return nil, FieldBinding{}, fmt.Errorf("%q: %w", name, ErrNoField)
	}
	i, ok := rec.binding.index[name]
	if !ok {
		return nil, FieldBinding{}, fmt.Errorf("%q: %w", name, ErrNoField)
	}

	f := rec.binding.Fields[i]
	if len(kinds) > 0 {
		match := false
		for _, k := range kinds {
			match = match || f.Kind == k
		}
		if !match {
			return nil, f, fmt.Errorf("%q is %s, not %s: %w", name, f.Kind, kinds[0], ErrNoField)
		}
	}
	return rec.data[rec.starts[i] : rec.starts[i]+f.Size], f, nil
}

func value[T any](rec Record, name string, kinds ...Kind) (T, error) {
	b, _, err := rec.raw(name, kinds...)
	if err != nil {
		var zero T
		return zero, err
	}
	return pod.FromBytes[T](b)
}

func (rec Record) Bool(name string) (bool, error) {
	v, err := value[uint8](rec, name, KindBool, KindU8)
	return v != 0, err
}

func (rec Record) Uint8(name string) (uint8, error) {
	return value[uint8](rec, name, KindU8, KindBool)
}

func (rec Record) Int8(name string) (int8, error) {
	return value[int8](rec, name, KindI8)
}

func (rec Record) Uint16(name string) (uint16, error) {
	return value[uint16](rec, name, KindU16)
}

func (rec Record) Int16(name string) (int16, error) {
	return value[int16](rec, name, KindI16)
}

func (rec Record) Uint32(name string) (uint32, error) {
	return value[uint32](rec, name, KindU32)
}

func (rec Record) Int32(name string) (int32, error) {
	return value[int32](rec, name, KindI32)
}

func (rec Record) Uint64(name string) (uint64, error) {
	return value[uint64](rec, name, KindU64, KindPtr)
}

func (rec Record) Int64(name string) (int64, error) {
	return value[int64](rec, name, KindI64)
}

func (rec Record) Float32(name string) (float32, error) {
	return value[float32](rec, name, KindF32)
}

func (rec Record) Float64(name string) (float64, error) {
	return value[float64](rec, name, KindF64)
}

// Pointer reads a reference field. Following it is up to the caller.
func (rec Record) Pointer(name string) (remote.Ptr[remote.Object], error) {
	return value[remote.Ptr[remote.Object]](rec, name, KindPtr)
}

// Bytes returns a copy of the field's raw bytes, whatever its kind.
func (rec Record) Bytes(name string) ([]byte, error) {
	b, _, err := rec.raw(name)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Value returns the field as the Go type matching its kind.
func (rec Record) Value(name string) (any, error) {
	_, f, err := rec.raw(name)
	if err != nil {
		return nil, err
	}

	switch f.Kind {
	case KindBool:
		return rec.Bool(name)
	case KindU8:
		return rec.Uint8(name)
	case KindI8:
		return rec.Int8(name)
	case KindU16:
		return rec.Uint16(name)
	case KindI16:
		return rec.Int16(name)
	case KindU32:
		return rec.Uint32(name)
	case KindI32:
		return rec.Int32(name)
	case KindU64:
		return rec.Uint64(name)
	case KindI64:
		return rec.Int64(name)
	case KindF32:
		return rec.Float32(name)
	case KindF64:
		return rec.Float64(name)
	case KindPtr:
		return rec.Pointer(name)
	}
	return rec.Bytes(name)
}

// Map returns every field keyed by name, for JSON output.
func (rec Record) Map() map[string]any {
	if rec.binding == nil {
		return nil
	}
	m := make(map[string]any, len(rec.binding.Fields))
	for _, f := range rec.binding.Fields {
		v, err := rec.Value(f.Name)
		if err != nil {
			continue
		}
		if p, ok := v.(remote.Ptr[remote.Object]); ok {
			v = p.String()
		}
		m[f.Name] = v
	}
	return m
}

func (rec Record) String() string {
	if rec.binding == nil {
		return "{}"
	}

	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range rec.binding.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		v, err := rec.Value(f.Name)
		if err != nil {
			v = "?"
		}
		fmt.Fprintf(&sb, "%s: %v", f.Name, v)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Equal reports whether both records hold the same bytes for the same binding.
func (rec Record) Equal(other Record) bool {
	return rec.binding == other.binding && string(rec.data) == string(other.data)
}
