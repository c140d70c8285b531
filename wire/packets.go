package wire

import (
	"encoding/binary"

	"github.com/taku-k/mysrv/mysqltype"
)

// PutOK appends an OK packet (spec.md §4.2) to dst.
func PutOK(dst []byte, affectedRows, lastInsertID uint64, status mysqltype.StatusFlags, warnings uint16) []byte {
	dst = append(dst, 0x00)
	dst = PutLenEncInt(dst, affectedRows)
	dst = PutLenEncInt(dst, lastInsertID)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(status))
	dst = binary.LittleEndian.AppendUint16(dst, warnings)
	return dst
}

// PutERR appends an ERR packet (spec.md §4.2) to dst.
func PutERR(dst []byte, code mysqltype.ErrorCode, msg string) []byte {
	dst = append(dst, 0xFF)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(code))
	dst = append(dst, '#')
	dst = append(dst, code.SQLState()...)
	dst = append(dst, msg...)
	return dst
}

// PutEOF appends an EOF packet (spec.md §4.2) to dst.
func PutEOF(dst []byte, status mysqltype.StatusFlags, warnings uint16) []byte {
	dst = append(dst, 0xFE)
	dst = binary.LittleEndian.AppendUint16(dst, warnings)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(status))
	return dst
}

// IsEOFPacket reports whether payload is shaped like an EOF packet rather
// than a row whose first byte happens to be the 0xFE lenenc-int prefix:
// EOF packets are at most 9 bytes total (spec.md §9).
func IsEOFPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFE && len(payload) <= 9
}

// IsERRPacket reports whether payload is an ERR packet.
func IsERRPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFF
}

// IsOKPacket reports whether payload is an OK packet.
func IsOKPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0x00
}

// PutColumnDefinition41 appends a protocol-4.1 column definition packet
// (spec.md §4.2) to dst.
func PutColumnDefinition41(dst []byte, schema, table, orgTable, name, orgName string, charset uint16, colLen uint32, colType mysqltype.ColumnType, flags mysqltype.ColumnFlags, decimals byte) []byte {
	dst = PutLenEncString(dst, []byte("def"))
	dst = PutLenEncString(dst, []byte(schema))
	dst = PutLenEncString(dst, []byte(table))
	dst = PutLenEncString(dst, []byte(orgTable))
	dst = PutLenEncString(dst, []byte(name))
	dst = PutLenEncString(dst, []byte(orgName))
	dst = append(dst, 0x0c)
	dst = binary.LittleEndian.AppendUint16(dst, charset)
	dst = binary.LittleEndian.AppendUint32(dst, colLen)
	dst = append(dst, byte(colType))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(flags))
	dst = append(dst, decimals)
	dst = append(dst, 0x00, 0x00) // filler
	return dst
}
