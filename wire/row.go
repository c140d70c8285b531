package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/taku-k/mysrv/mysqltype"
	"github.com/taku-k/mysrv/value"
)

// Column describes a single result-set or prepared-statement-parameter
// column (spec.md §3).
type Column struct {
	Schema, Table string
	Name          string
	Type          mysqltype.ColumnType
	Flags         mysqltype.ColumnFlags
}

// PutColumnDefinition appends col's protocol-4.1 column definition packet
// payload to dst.
func PutColumnDefinition(dst []byte, col Column) []byte {
	return PutColumnDefinition41(dst, col.Schema, col.Table, col.Table, col.Name, col.Name, 0x21, 0, col.Type, col.Flags, 0)
}

// RowBuilder accumulates one row's worth of column values, coercing each
// against its declared Column and appending the wire-format bytes to an
// output buffer. The same RowBuilder is reused for both the text protocol
// (QUERY replies) and the binary protocol (EXECUTE replies).
type RowBuilder struct {
	Binary  bool
	Columns []Column

	col   int    // next expected column index
	out   []byte
	nulls []bool // binary mode only: null bitmap accumulator, one per column
}

// NewRowBuilder creates a RowBuilder for the given column descriptors.
func NewRowBuilder(cols []Column, binary bool) *RowBuilder {
	return &RowBuilder{Binary: binary, Columns: cols}
}

// ErrColumnCountMismatch is returned by RowBuilder.Finish when the row did
// not receive exactly len(Columns) WriteCol calls (spec.md §4.3).
var ErrColumnCountMismatch = fmt.Errorf("wire: wrong number of columns written for row")

// WriteCol coerces v against the next column's declared type and appends
// its wire encoding to the row.
func (b *RowBuilder) WriteCol(v any) error {
	if b.col >= len(b.Columns) {
		return ErrColumnCountMismatch
	}
	col := b.Columns[b.col]
	b.col++

	val, err := value.Of(v)
	if err != nil {
		return err
	}

	if b.Binary {
		isNull := val.IsNull()
		b.nulls = append(b.nulls, isNull)
		if isNull {
			return nil
		}
		return b.writeBinaryValue(col, val)
	}
	return b.writeTextValue(col, val)
}

// Finish returns the accumulated row bytes (with the binary-protocol null
// bitmap and leading 0x00 byte prepended, if applicable), or an error if
// fewer or more columns were written than declared.
func (b *RowBuilder) Finish() ([]byte, error) {
	if b.col != len(b.Columns) {
		return nil, ErrColumnCountMismatch
	}
	if !b.Binary {
		return b.out, nil
	}

	bitmapLen := (len(b.Columns) + 7 + 2) / 8
	bitmap := make([]byte, bitmapLen)
	for i, isNull := range b.nulls {
		if isNull {
			pos := i + 2
			bitmap[pos/8] |= 1 << uint(pos%8)
		}
	}

	row := make([]byte, 0, 1+len(bitmap)+len(b.out))
	row = append(row, 0x00)
	row = append(row, bitmap...)
	row = append(row, b.out...)
	return row, nil
}

func (b *RowBuilder) writeTextValue(col Column, v value.Value) error {
	if v.IsNull() {
		b.out = PutLenEncNull(b.out)
		return nil
	}
	text, err := textRender(col, v)
	if err != nil {
		return err
	}
	b.out = PutLenEncString(b.out, text)
	return nil
}

func textRender(col Column, v value.Value) ([]byte, error) {
	switch v.Kind {
	case value.KindInt:
		return strconv.AppendInt(nil, v.Int, 10), nil
	case value.KindUint:
		return strconv.AppendUint(nil, v.Uint, 10), nil
	case value.KindDouble:
		return strconv.AppendFloat(nil, v.Double, 'g', -1, 64), nil
	case value.KindFloat32:
		return strconv.AppendFloat(nil, float64(v.Float), 'g', -1, 32), nil
	case value.KindBytes:
		return v.Bytes, nil
	case value.KindDate:
		return []byte(formatDate(v)), nil
	case value.KindTime:
		return []byte(formatTime(v)), nil
	default:
		return nil, fmt.Errorf("wire: unhandled value kind %d for column %q", v.Kind, col.Name)
	}
}

func formatDate(v value.Value) string {
	if v.Hour == 0 && v.Minute == 0 && v.Second == 0 && v.Microsecond == 0 {
		return fmt.Sprintf("%04d-%02d-%02d", v.Year, v.Month, v.Day)
	}
	if v.Microsecond == 0 {
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second)
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second, v.Microsecond)
}

func formatTime(v value.Value) string {
	sign := ""
	if v.Negative {
		sign = "-"
	}
	if v.Microsecond == 0 {
		return fmt.Sprintf("%s%03d:%02d:%02d", sign, v.Days*24+v.Hour, v.Minute, v.Second)
	}
	return fmt.Sprintf("%s%03d:%02d:%02d.%06d", sign, v.Days*24+v.Hour, v.Minute, v.Second, v.Microsecond)
}

// writeBinaryValue appends the binary-protocol encoding of v, coerced
// against col.Type, to b.out. Truncating/sign-losing coercions are a
// runtime error (spec.md §4.3).
func (b *RowBuilder) writeBinaryValue(col Column, v value.Value) error {
	switch col.Type {
	case mysqltype.TypeTiny:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt8 || n > math.MaxUint8 {
			return coerceErr(col, v)
		}
		b.out = append(b.out, byte(n))
		return nil
	case mysqltype.TypeShort, mysqltype.TypeYear:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt16 || n > math.MaxUint16 {
			return coerceErr(col, v)
		}
		b.out = binary.LittleEndian.AppendUint16(b.out, uint16(n))
		return nil
	case mysqltype.TypeLong, mysqltype.TypeInt24:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxUint32 {
			return coerceErr(col, v)
		}
		b.out = binary.LittleEndian.AppendUint32(b.out, uint32(n))
		return nil
	case mysqltype.TypeLongLong:
		n, ok := asInt64(v)
		if !ok {
			return coerceErr(col, v)
		}
		b.out = binary.LittleEndian.AppendUint64(b.out, uint64(n))
		return nil
	case mysqltype.TypeFloat:
		f, ok := asFloat32(v)
		if !ok {
			return coerceErr(col, v)
		}
		b.out = binary.LittleEndian.AppendUint32(b.out, math.Float32bits(f))
		return nil
	case mysqltype.TypeDouble:
		f, ok := asFloat64(v)
		if !ok {
			return coerceErr(col, v)
		}
		b.out = binary.LittleEndian.AppendUint64(b.out, math.Float64bits(f))
		return nil
	case mysqltype.TypeDate, mysqltype.TypeDateTime, mysqltype.TypeTimestamp:
		if v.Kind != value.KindDate {
			return coerceErr(col, v)
		}
		b.out = appendBinaryDate(b.out, v)
		return nil
	case mysqltype.TypeTime:
		if v.Kind != value.KindTime {
			return coerceErr(col, v)
		}
		b.out = appendBinaryTime(b.out, v)
		return nil
	default: // string-shaped: VARCHAR/VAR_STRING/STRING/BLOB/*BLOB/DECIMAL/NEWDECIMAL/ENUM/SET/BIT
		text, ok := textRenderBinaryString(v)
		if !ok {
			return coerceErr(col, v)
		}
		b.out = PutLenEncString(b.out, text)
		return nil
	}
}

func textRenderBinaryString(v value.Value) ([]byte, bool) {
	switch v.Kind {
	case value.KindBytes:
		return v.Bytes, true
	case value.KindInt:
		return strconv.AppendInt(nil, v.Int, 10), true
	case value.KindUint:
		return strconv.AppendUint(nil, v.Uint, 10), true
	case value.KindDouble:
		return strconv.AppendFloat(nil, v.Double, 'g', -1, 64), true
	case value.KindFloat32:
		return strconv.AppendFloat(nil, float64(v.Float), 'g', -1, 32), true
	default:
		return nil, false
	}
}

func coerceErr(col Column, v value.Value) error {
	return fmt.Errorf("wire: cannot coerce value kind %d into column %q of type %s", v.Kind, col.Name, col.Type)
}

func asInt64(v value.Value) (int64, bool) {
	switch v.Kind {
	case value.KindInt:
		return v.Int, true
	case value.KindUint:
		if v.Uint > math.MaxInt64 {
			return 0, false
		}
		return int64(v.Uint), true
	}
	return 0, false
}

func asFloat64(v value.Value) (float64, bool) {
	switch v.Kind {
	case value.KindDouble:
		return v.Double, true
	case value.KindFloat32:
		return float64(v.Float), true
	case value.KindInt:
		return float64(v.Int), true
	case value.KindUint:
		return float64(v.Uint), true
	}
	return 0, false
}

func asFloat32(v value.Value) (float32, bool) {
	switch v.Kind {
	case value.KindFloat32:
		return v.Float, true
	case value.KindDouble:
		return float32(v.Double), true
	case value.KindInt:
		return float32(v.Int), true
	case value.KindUint:
		return float32(v.Uint), true
	}
	return 0, false
}

// appendBinaryDate appends the packed 0/4/7/11-byte DATE/DATETIME/TIMESTAMP
// form (spec.md §4.2): a length byte followed by that many component
// bytes, omitting trailing zero components.
func appendBinaryDate(dst []byte, v value.Value) []byte {
	switch {
	case v.Year == 0 && v.Month == 0 && v.Day == 0 && v.Hour == 0 && v.Minute == 0 && v.Second == 0 && v.Microsecond == 0:
		return append(dst, 0)
	case v.Hour == 0 && v.Minute == 0 && v.Second == 0 && v.Microsecond == 0:
		dst = append(dst, 4)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v.Year))
		return append(dst, byte(v.Month), byte(v.Day))
	case v.Microsecond == 0:
		dst = append(dst, 7)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v.Year))
		return append(dst, byte(v.Month), byte(v.Day), byte(v.Hour), byte(v.Minute), byte(v.Second))
	default:
		dst = append(dst, 11)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v.Year))
		dst = append(dst, byte(v.Month), byte(v.Day), byte(v.Hour), byte(v.Minute), byte(v.Second))
		return binary.LittleEndian.AppendUint32(dst, uint32(v.Microsecond))
	}
}

// appendBinaryTime appends the packed 0/8/12-byte TIME form (spec.md §4.2).
func appendBinaryTime(dst []byte, v value.Value) []byte {
	if v.Days == 0 && v.Hour == 0 && v.Minute == 0 && v.Second == 0 && v.Microsecond == 0 {
		return append(dst, 0)
	}
	neg := byte(0)
	if v.Negative {
		neg = 1
	}
	if v.Microsecond == 0 {
		dst = append(dst, 8, neg)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(v.Days))
		return append(dst, byte(v.Hour), byte(v.Minute), byte(v.Second))
	}
	dst = append(dst, 12, neg)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(v.Days))
	dst = append(dst, byte(v.Hour), byte(v.Minute), byte(v.Second))
	return binary.LittleEndian.AppendUint32(dst, uint32(v.Microsecond))
}
