// Package wire implements the MySQL wire encodings: length-encoded
// integers/strings, OK/ERR/EOF packets, column-definition-41 packets, and
// the text-protocol/binary-protocol row encodings (spec.md §4.2).
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by the decode helpers when the input ends before
// a complete value could be read.
var ErrTruncated = errors.New("wire: truncated input")

// NullLenEnc is the first-byte sentinel for a length-encoded NULL.
const NullLenEnc = 0xFB

// PutLenEncInt appends the length-encoded form of n to dst and returns the
// extended slice (spec.md §4.2).
func PutLenEncInt(dst []byte, n uint64) []byte {
	switch {
	case n <= 0xFA:
		return append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, 0xFC)
		return binary.LittleEndian.AppendUint16(dst, uint16(n))
	case n <= 0xFFFFFF:
		dst = append(dst, 0xFD)
		return append(dst, byte(n), byte(n>>8), byte(n>>16))
	default:
		dst = append(dst, 0xFE)
		return binary.LittleEndian.AppendUint64(dst, n)
	}
}

// PutLenEncNull appends the length-encoded NULL sentinel to dst.
func PutLenEncNull(dst []byte) []byte {
	return append(dst, NullLenEnc)
}

// LenEncInt decodes a length-encoded integer at the start of b, returning
// the value, whether it represented NULL, and the number of bytes
// consumed. 0xFF is illegal in this context and reported as ErrTruncated's
// sibling via a zero consumed count plus a non-nil error.
func LenEncInt(b []byte) (value uint64, isNull bool, n int, err error) {
	if len(b) == 0 {
		return 0, false, 0, ErrTruncated
	}
	switch first := b[0]; {
	case first <= 0xFA:
		return uint64(first), false, 1, nil
	case first == 0xFB:
		return 0, true, 1, nil
	case first == 0xFC:
		if len(b) < 3 {
			return 0, false, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), false, 3, nil
	case first == 0xFD:
		if len(b) < 4 {
			return 0, false, 0, ErrTruncated
		}
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, false, 4, nil
	case first == 0xFE:
		if len(b) < 9 {
			return 0, false, 0, ErrTruncated
		}
		return binary.LittleEndian.Uint64(b[1:9]), false, 9, nil
	default: // 0xFF
		return 0, false, 0, errors.New("wire: 0xFF is not a valid lenenc-int prefix")
	}
}

// PutLenEncString appends the length-encoded form of s (lenenc-int length
// + raw bytes) to dst.
func PutLenEncString(dst []byte, s []byte) []byte {
	dst = PutLenEncInt(dst, uint64(len(s)))
	return append(dst, s...)
}

// LenEncString decodes a length-encoded string at the start of b, returning
// the bytes (a sub-slice of b, not a copy), whether it was NULL, and the
// number of bytes consumed.
func LenEncString(b []byte) (s []byte, isNull bool, n int, err error) {
	length, isNull, n, err := LenEncInt(b)
	if err != nil {
		return nil, false, 0, err
	}
	if isNull {
		return nil, true, n, nil
	}
	end := n + int(length)
	if end > len(b) || end < n {
		return nil, false, 0, ErrTruncated
	}
	return b[n:end], false, end, nil
}

// PutNulString appends s followed by a NUL terminator to dst.
func PutNulString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// NulString reads a NUL-terminated string from the start of b, returning
// the bytes (excluding the terminator) and the number of bytes consumed
// (including the terminator).
func NulString(b []byte) (s []byte, n int, err error) {
	for i, c := range b {
		if c == 0 {
			return b[:i], i + 1, nil
		}
	}
	return nil, 0, ErrTruncated
}
