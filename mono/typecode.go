package mono

import "fmt"

// TypeCode is the element type tag stored in MonoType / Il2CppType.
type TypeCode uint8

const (
	TypeEnd         TypeCode = 0x00
	TypeVoid        TypeCode = 0x01
	TypeBoolean     TypeCode = 0x02
	TypeChar        TypeCode = 0x03
	TypeI1          TypeCode = 0x04
	TypeU1          TypeCode = 0x05
	TypeI2          TypeCode = 0x06
	TypeU2          TypeCode = 0x07
	TypeI4          TypeCode = 0x08
	TypeU4          TypeCode = 0x09
	TypeI8          TypeCode = 0x0a
	TypeU8          TypeCode = 0x0b
	TypeR4          TypeCode = 0x0c
	TypeR8          TypeCode = 0x0d
	TypeString      TypeCode = 0x0e
	TypePtr         TypeCode = 0x0f
	TypeByRef       TypeCode = 0x10
	TypeValueType   TypeCode = 0x11
	TypeClass       TypeCode = 0x12
	TypeVar         TypeCode = 0x13
	TypeArray       TypeCode = 0x14
	TypeGenericInst TypeCode = 0x15
	TypeTypedByRef  TypeCode = 0x16
	TypeI           TypeCode = 0x18
	TypeU           TypeCode = 0x19
	TypeFnPtr       TypeCode = 0x1b
	TypeObject      TypeCode = 0x1c
	TypeSZArray     TypeCode = 0x1d
	TypeMVar        TypeCode = 0x1e
)

var typeCodeNames = map[TypeCode]string{
	TypeEnd:         "end",
	TypeVoid:        "void",
	TypeBoolean:     "bool",
	TypeChar:        "char",
	TypeI1:          "sbyte",
	TypeU1:          "byte",
	TypeI2:          "short",
	TypeU2:          "ushort",
	TypeI4:          "int",
	TypeU4:          "uint",
	TypeI8:          "long",
	TypeU8:          "ulong",
	TypeR4:          "float",
	TypeR8:          "double",
	TypeString:      "string",
	TypePtr:         "ptr",
	TypeByRef:       "byref",
	TypeValueType:   "valuetype",
	TypeClass:       "class",
	TypeVar:         "var",
	TypeArray:       "array",
	TypeGenericInst: "generic",
	TypeTypedByRef:  "typedref",
	TypeI:           "nint",
	TypeU:           "nuint",
	TypeFnPtr:       "fnptr",
	TypeObject:      "object",
	TypeSZArray:     "szarray",
	TypeMVar:        "mvar",
}

func (t TypeCode) String() string {
	if name, ok := typeCodeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Size is the in-instance size of a field of this type, or 0 when it depends
// on the value type's own layout.
func (t TypeCode) Size() int {
	switch t {
	case TypeBoolean, TypeI1, TypeU1:
		return 1
	case TypeChar, TypeI2, TypeU2:
		return 2
	case TypeI4, TypeU4, TypeR4:
		return 4
	case TypeI8, TypeU8, TypeR8:
		return 8
	case TypeString, TypePtr, TypeByRef, TypeClass, TypeArray, TypeI, TypeU, TypeFnPtr, TypeObject, TypeSZArray:
		return 8
	}
	return 0
}

// Field attribute bits (ECMA-335 II.23.1.5).
const (
	FieldAttrStatic  uint16 = 0x0010
	FieldAttrLiteral uint16 = 0x0040
)
