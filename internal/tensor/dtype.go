package tensor

import "fmt"

// DType is the element encoding of a tensor. The numeric values are the codes
// hosts pass across the boundary and must not change.
type DType int32

const (
	F32  DType = 0
	F64  DType = 1
	F16  DType = 2
	U8   DType = 3
	I32  DType = 4
	I8   DType = 5
	I64  DType = 6
	Bool DType = 7
	BF16 DType = 11
)

var dtypeNames = map[DType]string{
	F32:  "f32",
	F64:  "f64",
	F16:  "f16",
	U8:   "u8",
	I32:  "i32",
	I8:   "i8",
	I64:  "i64",
	Bool: "bool",
	BF16: "bf16",
}

// DTypeFromCode validates a boundary dtype code.
func DTypeFromCode(code int32) (DType, error) {
	d := DType(code)
	if _, ok := dtypeNames[d]; !ok {
		return 0, fmt.Errorf("unsupported dtype code %d", code)
	}
	return d, nil
}

// ParseDType accepts the lower-case names returned by String plus the
// safetensors spellings (F32, BF16, ...).
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32", "F32", "float32":
		return F32, nil
	case "f64", "F64", "float64":
		return F64, nil
	case "f16", "F16", "float16", "half":
		return F16, nil
	case "bf16", "BF16", "bfloat16":
		return BF16, nil
	case "u8", "U8", "uint8":
		return U8, nil
	case "i8", "I8", "int8":
		return I8, nil
	case "i32", "I32", "int32":
		return I32, nil
	case "i64", "I64", "int64":
		return I64, nil
	case "bool", "BOOL":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", int32(d))
}

// IsFloat reports whether d holds floating point values.
func (d DType) IsFloat() bool {
	switch d {
	case F32, F64, F16, BF16:
		return true
	}
	return false
}

// Size returns the encoded element size in bytes.
func (d DType) Size() int {
	switch d {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case F16, BF16:
		return 2
	case U8, I8, Bool:
		return 1
	}
	return 0
}
