package binding

import (
	"fmt"
	"reflect"
	"strings"

	"monomem/mono"
	"monomem/pod"
	"monomem/process"
	"monomem/remote"

	"github.com/modern-go/reflect2"
)

// DescribeStruct builds a Description from the exported fields of struct T.
// The runtime field name comes from a `mono:"name"` tag, or the Go field
// name when there is none; `mono:"-"` skips a field. Field kinds follow the
// Go types: bool, sized integers, floats, uintptr or remote.Ptr for
// references, and [N]byte for raw bytes.
func DescribeStruct[T any](namespace, class string) (*Description, error) {
	desc, _, err := describeStruct[T](namespace, class)
	return desc, err
}

func describeStruct[T any](namespace, class string) (*Description, []reflect2.StructField, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("%s is not a struct", t)
	}

	st := reflect2.Type2(t).(reflect2.StructType)
	desc := NewDescription(class).Namespace(namespace)
	var fields []reflect2.StructField

	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.PkgPath() != "" {
			continue // unexported
		}

		name := sf.Name()
		if tag, ok := sf.Tag().Lookup("mono"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}

		ft := sf.Type().Type1()
		kind, size, err := kindOf(ft)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", t, sf.Name(), err)
		}

		if kind == KindBytes {
			desc.Bytes(name, size)
		} else {
			desc.Field(name, kind)
		}
		fields = append(fields, sf)
	}

	if err := desc.Validate(); err != nil {
		return nil, nil, err
	}
	return desc, fields, nil
}

var ptrPkgPath = reflect.TypeOf(remote.Ptr[remote.Object]{}).PkgPath()

func kindOf(t reflect.Type) (Kind, int, error) {
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, 1, nil
	case reflect.Uint8:
		return KindU8, 1, nil
	case reflect.Int8:
		return KindI8, 1, nil
	case reflect.Uint16:
		return KindU16, 2, nil
	case reflect.Int16:
		return KindI16, 2, nil
	case reflect.Uint32:
		return KindU32, 4, nil
	case reflect.Int32:
		return KindI32, 4, nil
	case reflect.Uint64, reflect.Uint:
		return KindU64, 8, nil
	case reflect.Int64, reflect.Int:
		return KindI64, 8, nil
	case reflect.Float32:
		return KindF32, 4, nil
	case reflect.Float64:
		return KindF64, 8, nil
	case reflect.Uintptr:
		return KindPtr, process.PointerSize, nil
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 && t.Len() > 0 {
			return KindBytes, t.Len(), nil
		}
	case reflect.Struct:
		if t.PkgPath() == ptrPkgPath && strings.HasPrefix(t.Name(), "Ptr[") {
			return KindPtr, process.PointerSize, nil
		}
	}
	return KindInvalid, 0, fmt.Errorf("unsupported field type %s", t)
}

// StructBinding decodes instances straight into a T.
type StructBinding[T any] struct {
	*RecordBinding
	fields []reflect2.StructField // parallel to RecordBinding.Fields
}

// BindStruct describes T and binds it against img.
func BindStruct[T any](r process.Reader, img *mono.Image, namespace, class string) (*StructBinding[T], error) {
	desc, fields, err := describeStruct[T](namespace, class)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	rb, err := Bind(r, img, desc)
	if err != nil {
		return nil, err
	}
	return &StructBinding[T]{RecordBinding: rb, fields: fields}, nil
}

// DecodeInto snapshots inst once and sets every bound field of dst. Other
// fields keep their values; dst is left untouched when decoding fails.
func (sb *StructBinding[T]) DecodeInto(r process.Reader, inst remote.Ptr[remote.Object], dst *T) error {
	rec, err := sb.Decode(r, inst)
	if err != nil {
		return err
	}

	tmp := *dst
	obj := reflect2.PtrOf(&tmp)
	for i, f := range sb.Fields {
		b, _, err := rec.raw(f.Name)
		if err != nil {
			return err
		}
		if f.Kind == KindBool && b[0] > 1 {
			b = []byte{1} // a Go bool must be 0 or 1
		}
		p, err := pod.Pointer(b, f.Size)
		if err != nil {
			return fmt.Errorf("%w: field %q: %w", ErrDecode, f.Name, err)
		}
		sb.fields[i].UnsafeSet(obj, p)
	}

	*dst = tmp
	return nil
}
