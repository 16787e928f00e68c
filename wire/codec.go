// Package wire implements MySQL's length-prefixed integer and string
// encodings (the "Basic Data Types" section of the MySQL client/server wire
// protocol).
package wire

import (
	"encoding/binary"
	"fmt"
)

// IntFixedLen decodes a little-endian unsigned integer occupying n bytes
// (1..8) from the start of b.
func IntFixedLen(b []byte, n int) (uint64, int, error) {
	if n < 1 || n > 8 {
		return 0, 0, fmt.Errorf("wire: invalid fixed-length int size %d", n)
	}
	if len(b) < n {
		return 0, 0, fmt.Errorf("wire: short read decoding %d-byte int: have %d bytes", n, len(b))
	}

	var buf [8]byte
	copy(buf[:n], b[:n])
	return binary.LittleEndian.Uint64(buf[:]), n, nil
}

// EncodeIntFixedLen encodes v as a little-endian unsigned integer occupying
// exactly n bytes.
func EncodeIntFixedLen(v uint64, n int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

// IntLenEnc decodes a MySQL length-encoded integer. A leading 0xFB (the
// NULL marker in row context) is not a valid prefix and is reported as an
// error; the row decoder checks for 0xFB itself before calling here.
func IntLenEnc(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("wire: empty buffer decoding length-encoded int")
	}

	switch {
	case b[0] < 0xFB:
		return uint64(b[0]), 1, nil
	case b[0] == 0xFC:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("wire: short read decoding 0xFC length-encoded int")
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case b[0] == 0xFD:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("wire: short read decoding 0xFD length-encoded int")
		}
		v := uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16
		return v, 4, nil
	case b[0] == 0xFE:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("wire: short read decoding 0xFE length-encoded int")
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		// 0xFB: NULL marker in row context, not a valid prefix here.
		return 0, 0, fmt.Errorf("wire: 0x%02x is a NULL marker, not a length-encoded int", b[0])
	}
}

// EncodeIntLenEnc encodes v using the shortest length-encoded-integer form.
func EncodeIntLenEnc(v uint64) []byte {
	switch {
	case v <= 250:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		out := make([]byte, 3)
		out[0] = 0xFC
		binary.LittleEndian.PutUint16(out[1:], uint16(v))
		return out
	case v <= 0xFFFFFF:
		out := make([]byte, 4)
		out[0] = 0xFD
		out[1] = byte(v)
		out[2] = byte(v >> 8)
		out[3] = byte(v >> 16)
		return out
	default:
		out := make([]byte, 9)
		out[0] = 0xFE
		binary.LittleEndian.PutUint64(out[1:], v)
		return out
	}
}

// StringLenEnc decodes a length-encoded string: an IntLenEnc length prefix
// followed by that many raw bytes, interpreted as UTF-8.
func StringLenEnc(b []byte) (string, int, error) {
	n, consumed, err := IntLenEnc(b)
	if err != nil {
		return "", 0, fmt.Errorf("wire: string length-encoded prefix: %w", err)
	}
	end := consumed + int(n)
	if len(b) < end {
		return "", 0, fmt.Errorf("wire: short read decoding %d-byte length-encoded string", n)
	}
	return string(b[consumed:end]), end, nil
}

// EncodeStringLenEnc encodes s as a length-encoded string.
func EncodeStringLenEnc(s string) []byte {
	out := EncodeIntLenEnc(uint64(len(s)))
	return append(out, s...)
}

// StringNullEnc decodes a NUL-terminated string, consuming the terminator.
func StringNullEnc(b []byte) (string, int, error) {
	for i, c := range b {
		if c == 0x00 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("wire: no NUL terminator found decoding null-terminated string")
}

// EncodeStringNullEnc encodes s followed by a NUL terminator.
func EncodeStringNullEnc(s string) []byte {
	out := make([]byte, 0, len(s)+1)
	out = append(out, s...)
	return append(out, 0x00)
}

// StringFixedLen decodes exactly n bytes as a string.
func StringFixedLen(b []byte, n int) (string, int, error) {
	if len(b) < n {
		return "", 0, fmt.Errorf("wire: short read decoding %d-byte fixed string", n)
	}
	return string(b[:n]), n, nil
}

// StringEOFEnc decodes all remaining bytes as a string.
func StringEOFEnc(b []byte) (string, int) {
	return string(b), len(b)
}
