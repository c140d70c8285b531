// Package value defines the tagged Value type that represents every
// MySQL column value on the wire (spec.md §3) and the Valuer interface a
// Backend's native types can implement to project themselves into it.
package value

import "time"

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt       // signed 64-bit integer
	KindUint      // unsigned 64-bit integer
	KindDouble    // float64
	KindFloat32   // float32
	KindBytes     // raw bytes: used for both MySQL STRING and BLOB variants
	KindDate      // calendar date/time, no timezone
	KindTime      // a MySQL TIME (possibly negative duration-like value)
)

// Value is the tagged union covering every MySQL column value variant.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind

	Int    int64
	Uint   uint64
	Double float64
	Float  float32
	Bytes  []byte

	Year, Month, Day          int
	Hour, Minute, Second      int
	Microsecond               int
	Negative                  bool // Kind == KindTime: true if the duration is negative
	Days                      int  // Kind == KindTime: whole days component
}

// Null is the NULL value.
var Null = Value{Kind: KindNull}

// IsNull reports whether v represents SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Int64 returns the value as a signed integer, with the obvious widening
// from the unsigned/floating variants, for callers that know the column is
// numeric.
func (v Value) Int64() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		return int64(v.Uint), true
	case KindDouble:
		return int64(v.Double), true
	case KindFloat32:
		return int64(v.Float), true
	}
	return 0, false
}

// Valuer is implemented by native types that know how to project
// themselves into a wire Value. Backends may pass any of Go's builtin
// scalar types, string, []byte, or time.Time to a row writer directly;
// Valuer is for types that need custom projection logic.
type Valuer interface {
	MysqlValue() Value
}

// Of converts a native Go value into its wire Value, or returns an error if
// v's type is not one this library knows how to project. Supported native
// types: nil, bool, all signed/unsigned integer widths, float32/float64,
// string, []byte, time.Time, and anything implementing Valuer.
func Of(v any) (Value, error) {
	if v == nil {
		return Null, nil
	}
	if vv, ok := v.(Valuer); ok {
		return vv.MysqlValue(), nil
	}
	switch x := v.(type) {
	case Value:
		return x, nil
	case bool:
		if x {
			return Value{Kind: KindInt, Int: 1}, nil
		}
		return Value{Kind: KindInt, Int: 0}, nil
	case int:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int8:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int16:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int32:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int64:
		return Value{Kind: KindInt, Int: x}, nil
	case uint:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint8:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint16:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint32:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint64:
		return Value{Kind: KindUint, Uint: x}, nil
	case float32:
		return Value{Kind: KindFloat32, Float: x}, nil
	case float64:
		return Value{Kind: KindDouble, Double: x}, nil
	case string:
		return Value{Kind: KindBytes, Bytes: []byte(x)}, nil
	case []byte:
		return Value{Kind: KindBytes, Bytes: x}, nil
	case time.Time:
		return FromTime(x), nil
	default:
		return Value{}, &UnsupportedTypeError{Value: v}
	}
}

// FromTime projects a time.Time into a Date-kind Value.
func FromTime(t time.Time) Value {
	return Value{
		Kind:        KindDate,
		Year:        t.Year(),
		Month:       int(t.Month()),
		Day:         t.Day(),
		Hour:        t.Hour(),
		Minute:      t.Minute(),
		Second:      t.Second(),
		Microsecond: t.Nanosecond() / 1000,
	}
}

// UnsupportedTypeError is returned by Of for a native type with no known
// wire projection.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return "value: unsupported type for MySQL value conversion"
}
