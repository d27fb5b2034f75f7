// Package binding resolves named field lists against live runtime classes
// and decodes instances of those classes from single snapshot reads.
//
// A Description is declared once in code (or loaded from JSON). Bind turns
// it into a RecordBinding by looking every field up in the runtime's field
// tables; that walk is the expensive part and happens once per attach. The
// binding is then reused by Decode on every poll.
package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"monomem/mono"
	"monomem/process"
)

var (
	// ErrBind wraps every failure to produce a RecordBinding. The class or a
	// field may simply not be loaded yet; retry later.
	ErrBind = errors.New("bind failed")

	// ErrDecode means a bound field does not fit inside the snapshot.
	ErrDecode = errors.New("decode failed")

	// ErrNoField is returned by Record accessors for a name that was not bound
	// or was bound with a different kind.
	ErrNoField = errors.New("no such field in record")
)

// Kind is the value type a field is decoded as.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindI8
	KindU16
	KindI16
	KindU32
	KindI32
	KindU64
	KindI64
	KindF32
	KindF64
	KindPtr
	KindBytes
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindU8:      "u8",
	KindI8:      "i8",
	KindU16:     "u16",
	KindI16:     "i16",
	KindU32:     "u32",
	KindI32:     "i32",
	KindU64:     "u64",
	KindI64:     "i64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindPtr:     "ptr",
	KindBytes:   "bytes",
}

var kindSizes = [...]int{
	KindBool: 1,
	KindU8:   1,
	KindI8:   1,
	KindU16:  2,
	KindI16:  2,
	KindU32:  4,
	KindI32:  4,
	KindU64:  8,
	KindI64:  8,
	KindF32:  4,
	KindF64:  8,
	KindPtr:  process.PointerSize,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Size is the fixed width of k, or 0 for KindBytes and invalid kinds.
func (k Kind) Size() int {
	if int(k) < len(kindSizes) {
		return kindSizes[k]
	}
	return 0
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if k != int(KindInvalid) && name == s {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// FieldSpec is one declared field. Size is only read for KindBytes.
type FieldSpec struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Size int    `json:"size,omitempty"`
}

func (f FieldSpec) width() int {
	if f.Kind == KindBytes {
		return f.Size
	}
	return f.Kind.Size()
}

// Description is the logical shape of a record: which class to find and
// which of its fields to read, in order.
type Description struct {
	Class          string      `json:"class"`
	ClassNamespace string      `json:"namespace,omitempty"`
	Fields         []FieldSpec `json:"fields"`

	// Singleton optionally names the static field holding the live instance.
	Singleton string `json:"singleton,omitempty"`
}

// NewDescription starts a description of class name in the global namespace.
func NewDescription(name string) *Description {
	return &Description{Class: name}
}

func (d *Description) Namespace(ns string) *Description {
	d.ClassNamespace = ns
	return d
}

func (d *Description) Field(name string, kind Kind) *Description {
	d.Fields = append(d.Fields, FieldSpec{Name: name, Kind: kind})
	return d
}

// Bytes declares a raw n-byte field, e.g. an inline struct.
func (d *Description) Bytes(name string, n int) *Description {
	d.Fields = append(d.Fields, FieldSpec{Name: name, Kind: KindBytes, Size: n})
	return d
}

// SingletonField records where the instance is found.
func (d *Description) SingletonField(field string) *Description {
	d.Singleton = field
	return d
}

// FullName is "Namespace.Class".
func (d *Description) FullName() string {
	if d.ClassNamespace == "" {
		return d.Class
	}
	return d.ClassNamespace + "." + d.Class
}

func (d *Description) Validate() error {
	if d.Class == "" {
		return errors.New("description has no class name")
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("%s: no fields declared", d.FullName())
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		switch {
		case f.Name == "":
			return fmt.Errorf("%s: field with empty name", d.FullName())
		case seen[f.Name]:
			return fmt.Errorf("%s: field %q declared twice", d.FullName(), f.Name)
		case f.Kind == KindInvalid || f.Kind > KindBytes:
			return fmt.Errorf("%s.%s: invalid kind", d.FullName(), f.Name)
		case f.width() <= 0 || f.width() > mono.MaxInstanceSize:
			return fmt.Errorf("%s.%s: invalid size %d", d.FullName(), f.Name, f.width())
		}
		seen[f.Name] = true
	}
	return nil
}

// LoadDescriptions reads a JSON array of descriptions.
func LoadDescriptions(path string) ([]*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptions: %w", err)
	}

	var descs []*Description
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptions: %w", err)
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return descs, nil
}

// FieldBinding is a declared field resolved against one concrete class.
type FieldBinding struct {
	Name   string
	Offset int32
	Size   int
	Kind   Kind
}

// RecordBinding is a fully resolved Description. Every field is present.
type RecordBinding struct {
	Description *Description
	Class       *mono.Class
	Fields      []FieldBinding

	index map[string]int
}

// Bind finds the described class in img and resolves every field offset.
// Any missing piece fails the whole binding with ErrBind.
func Bind(r process.Reader, img *mono.Image, desc *Description) (*RecordBinding, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	class, err := img.FindClass(r, desc.ClassNamespace, desc.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}
	return BindClass(r, class, desc)
}

// BindClass resolves desc against an already located class.
func BindClass(r process.Reader, class *mono.Class, desc *Description) (*RecordBinding, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	fields := make([]FieldBinding, 0, len(desc.Fields))
	index := make(map[string]int, len(desc.Fields))
	for _, spec := range desc.Fields {
		offset, err := class.FindField(r, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %w", ErrBind, desc.FullName(), spec.Name, err)
		}

		index[spec.Name] = len(fields)
		fields = append(fields, FieldBinding{
			Name:   spec.Name,
			Offset: offset,
			Size:   spec.width(),
			Kind:   spec.Kind,
		})
	}

	return &RecordBinding{Description: desc, Class: class, Fields: fields, index: index}, nil
}

// Probe binds the first description that matches img, in declared order,
// and reports which one it was. It is for classes that ship in more than
// one layout. Only missing classes or fields move on to the next
// description; a read failure stops the probe so a transient error cannot
// select the wrong layout.
func Probe(r process.Reader, img *mono.Image, descs ...*Description) (*RecordBinding, int, error) {
	if len(descs) == 0 {
		return nil, -1, fmt.Errorf("%w: no layouts to probe", ErrBind)
	}

	var errs []error
	for i, desc := range descs {
		rb, err := Bind(r, img, desc)
		if err == nil {
			return rb, i, nil
		}
		if !errors.Is(err, mono.ErrClassNotFound) && !errors.Is(err, mono.ErrFieldNotFound) {
			return nil, -1, err
		}
		errs = append(errs, err)
	}
	return nil, -1, fmt.Errorf("%w: no layout matched: %w", ErrBind, errors.Join(errs...))
}

// Field returns the binding for name.
func (rb *RecordBinding) Field(name string) (FieldBinding, bool) {
	i, ok := rb.index[name]
	if !ok {
		return FieldBinding{}, false
	}
	return rb.Fields[i], true
}

// KindOf maps a field's element type to the kind it decodes as. Value
// types and generic instances have no fixed kind.
func KindOf(t mono.TypeCode) (Kind, bool) {
	switch t {
	case mono.TypeBoolean:
		return KindBool, true
	case mono.TypeU1:
		return KindU8, true
	case mono.TypeI1:
		return KindI8, true
	case mono.TypeChar, mono.TypeU2:
		return KindU16, true
	case mono.TypeI2:
		return KindI16, true
	case mono.TypeU4:
		return KindU32, true
	case mono.TypeI4:
		return KindI32, true
	case mono.TypeU8, mono.TypeU:
		return KindU64, true
	case mono.TypeI8, mono.TypeI:
		return KindI64, true
	case mono.TypeR4:
		return KindF32, true
	case mono.TypeR8:
		return KindF64, true
	case mono.TypeString, mono.TypePtr, mono.TypeByRef, mono.TypeClass, mono.TypeArray,
		mono.TypeFnPtr, mono.TypeObject, mono.TypeSZArray:
		return KindPtr, true
	}
	return KindInvalid, false
}

// DescribeClass declares every instance field of class whose type has a
// fixed kind, in field-table order.
func DescribeClass(r process.Reader, class *mono.Class) (*Description, error) {
	name, err := class.Name(r)
	if err != nil {
		return nil, err
	}
	ns, err := class.Namespace(r)
	if err != nil {
		return nil, err
	}

	desc := NewDescription(name).Namespace(ns)
	for f, err := range class.Fields(r) {
		if err != nil {
			return nil, err
		}
		if f.IsStatic() || f.IsLiteral() {
			continue
		}
		if kind, ok := KindOf(f.Type); ok {
			desc.Field(f.Name, kind)
		}
	}
	if len(desc.Fields) == 0 {
		return nil, fmt.Errorf("%s: no decodable instance fields", desc.FullName())
	}
	return desc, nil
}
