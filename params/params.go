// Package params decodes COM_STMT_EXECUTE payloads into a typed parameter
// list, honoring the client-supplied type table and any prior
// COM_STMT_SEND_LONG_DATA fragments accumulated on the statement (spec.md
// §4.4).
package params

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/taku-k/mysrv/mysqltype"
	"github.com/taku-k/mysrv/value"
	"github.com/taku-k/mysrv/wire"
)

// BoundType is one entry of a statement's client-declared parameter type
// table: the column type byte plus its unsigned flag.
type BoundType struct {
	Type     mysqltype.ColumnType
	Unsigned bool
}

// BoundState is the server-held per-statement binding state threaded
// through successive EXECUTE calls (spec.md §3's "Prepared-statement
// state"). Parse mutates it in place: it replaces Types wholesale when the
// new-params-bound flag is set, and the caller is responsible for clearing
// LongData after each EXECUTE callback returns (invariant 5).
type BoundState struct {
	Types    []BoundType
	LongData map[int][]byte
}

// AppendLongData accumulates a COM_STMT_SEND_LONG_DATA fragment for
// parameter index i.
func (s *BoundState) AppendLongData(i int, data []byte) {
	if s.LongData == nil {
		s.LongData = make(map[int][]byte)
	}
	s.LongData[i] = append(s.LongData[i], data...)
}

// ClearLongData empties the long-data table, retaining Types, per
// invariant 5.
func (s *BoundState) ClearLongData() {
	s.LongData = nil
}

// Param is one decoded EXECUTE parameter.
type Param struct {
	Value    value.Value
	Type     mysqltype.ColumnType
	Unsigned bool
}

// ErrNoBoundTypes is returned by Parse when new-params-bound is unset and
// the statement has no previously bound type table.
var ErrNoBoundTypes = fmt.Errorf("params: no previously bound parameter types for this statement")

// Parse decodes the COM_STMT_EXECUTE payload (from the null bitmap on) against
// paramCount and bound, per spec.md §4.4. It mutates
// bound.Types in place when the new-params-bound flag is set.
func Parse(payload []byte, paramCount int, bound *BoundState) ([]Param, error) {
	// payload[0:4] statement id, payload[4] flags, payload[5:9] iteration
	// count are consumed by the caller (command parser) before Parse sees
	// the rest; Parse is handed the payload starting at the null bitmap.
	pos := 0
	if paramCount == 0 {
		return nil, nil
	}

	bitmapLen := (paramCount + 7) / 8
	if len(payload) < pos+bitmapLen+1 {
		return nil, fmt.Errorf("params: truncated null bitmap")
	}
	nullBitmap := payload[pos : pos+bitmapLen]
	pos += bitmapLen

	newParamsBound := payload[pos] != 0
	pos++

	if newParamsBound {
		types := make([]BoundType, paramCount)
		for i := 0; i < paramCount; i++ {
			if len(payload) < pos+2 {
				return nil, fmt.Errorf("params: truncated type table at param %d", i)
			}
			types[i] = BoundType{
				Type:     mysqltype.ColumnType(payload[pos]),
				Unsigned: payload[pos+1]&0x80 != 0,
			}
			pos += 2
		}
		bound.Types = types
	} else if len(bound.Types) < paramCount {
		return nil, ErrNoBoundTypes
	}

	out := make([]Param, paramCount)
	for i := 0; i < paramCount; i++ {
		bt := bound.Types[i]
		out[i].Type = bt.Type
		out[i].Unsigned = bt.Unsigned

		isNull := nullBitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			out[i].Value = value.Null
			continue
		}
		if data, ok := bound.LongData[i]; ok {
			out[i].Value = value.Value{Kind: value.KindBytes, Bytes: data}
			continue
		}

		v, n, err := decodeBinaryValue(payload[pos:], bt)
		if err != nil {
			return nil, fmt.Errorf("params: decoding param %d: %w", i, err)
		}
		pos += n
		out[i].Value = v
	}
	return out, nil
}

// decodeBinaryValue decodes one inline binary-protocol value at the start
// of b, per spec.md §4.2's binary row encoding inverted.
func decodeBinaryValue(b []byte, bt BoundType) (value.Value, int, error) {
	switch bt.Type {
	case mysqltype.TypeTiny:
		if len(b) < 1 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		if bt.Unsigned {
			return value.Value{Kind: value.KindUint, Uint: uint64(b[0])}, 1, nil
		}
		return value.Value{Kind: value.KindInt, Int: int64(int8(b[0]))}, 1, nil
	case mysqltype.TypeShort, mysqltype.TypeYear:
		if len(b) < 2 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		u := binary.LittleEndian.Uint16(b)
		if bt.Unsigned {
			return value.Value{Kind: value.KindUint, Uint: uint64(u)}, 2, nil
		}
		return value.Value{Kind: value.KindInt, Int: int64(int16(u))}, 2, nil
	case mysqltype.TypeLong, mysqltype.TypeInt24:
		if len(b) < 4 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		u := binary.LittleEndian.Uint32(b)
		if bt.Unsigned {
			return value.Value{Kind: value.KindUint, Uint: uint64(u)}, 4, nil
		}
		return value.Value{Kind: value.KindInt, Int: int64(int32(u))}, 4, nil
	case mysqltype.TypeLongLong:
		if len(b) < 8 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		u := binary.LittleEndian.Uint64(b)
		if bt.Unsigned {
			return value.Value{Kind: value.KindUint, Uint: u}, 8, nil
		}
		return value.Value{Kind: value.KindInt, Int: int64(u)}, 8, nil
	case mysqltype.TypeFloat:
		if len(b) < 4 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return value.Value{Kind: value.KindFloat32, Float: f}, 4, nil
	case mysqltype.TypeDouble:
		if len(b) < 8 {
			return value.Value{}, 0, wire.ErrTruncated
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(b))
		return value.Value{Kind: value.KindDouble, Double: f}, 8, nil
	case mysqltype.TypeDate, mysqltype.TypeDateTime, mysqltype.TypeTimestamp:
		return decodeBinaryDate(b)
	case mysqltype.TypeTime:
		return decodeBinaryTime(b)
	default: // string-shaped: VARCHAR/VAR_STRING/STRING/BLOB/*BLOB/DECIMAL/NEWDECIMAL/ENUM/SET/BIT
		s, _, n, err := wire.LenEncString(b)
		if err != nil {
			return value.Value{}, 0, err
		}
		buf := make([]byte, len(s))
		copy(buf, s)
		return value.Value{Kind: value.KindBytes, Bytes: buf}, n, nil
	}
}

func decodeBinaryDate(b []byte) (value.Value, int, error) {
	if len(b) < 1 {
		return value.Value{}, 0, wire.ErrTruncated
	}
	length := int(b[0])
	if len(b) < 1+length {
		return value.Value{}, 0, wire.ErrTruncated
	}
	v := value.Value{Kind: value.KindDate}
	if length >= 4 {
		v.Year = int(binary.LittleEndian.Uint16(b[1:3]))
		v.Month = int(b[3])
		v.Day = int(b[4])
	}
	if length >= 7 {
		v.Hour = int(b[5])
		v.Minute = int(b[6])
		v.Second = int(b[7])
	}
	if length >= 11 {
		v.Microsecond = int(binary.LittleEndian.Uint32(b[8:12]))
	}
	return v, 1 + length, nil
}

func decodeBinaryTime(b []byte) (value.Value, int, error) {
	if len(b) < 1 {
		return value.Value{}, 0, wire.ErrTruncated
	}
	length := int(b[0])
	if len(b) < 1+length {
		return value.Value{}, 0, wire.ErrTruncated
	}
	v := value.Value{Kind: value.KindTime}
	if length >= 8 {
		v.Negative = b[1] != 0
		v.Days = int(binary.LittleEndian.Uint32(b[2:6]))
		v.Hour = int(b[6])
		v.Minute = int(b[7])
		v.Second = int(b[8])
	}
	if length >= 12 {
		v.Microsecond = int(binary.LittleEndian.Uint32(b[9:13]))
	}
	return v, 1 + length, nil
}
