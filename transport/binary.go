package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Little-endian primitive codec helpers shared by the frame body encoders.
// Byte strings and strings are written as an int32 length prefix followed
// by the raw bytes; a length of -1 encodes the null value.

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeByteString(buf *bytes.Buffer, b []byte) {
	if b == nil {
		writeUint32(buf, 0xFFFFFFFF)
		return
	}
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeByteString(buf, []byte(s))
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFrameTooShort, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFrameTooShort, err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// readByteString reads a length-prefixed byte string, rejecting lengths
// above maxLen to bound allocations from hostile input.
func readByteString(r *bytes.Reader, maxLen int) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0xFFFFFFFF {
		return nil, nil
	}
	if int(n) > maxLen {
		return nil, fmt.Errorf("%w: byte string length %d exceeds limit %d", ErrFrameTooLarge, n, maxLen)
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: byte string length %d exceeds remaining %d", ErrFrameTooShort, n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameTooShort, err)
	}
	return b, nil
}

func readString(r *bytes.Reader, maxLen int) (string, error) {
	b, err := readByteString(r, maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
