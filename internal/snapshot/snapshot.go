// Package snapshot implements the point-in-time binary codec for the
// in-memory map: a length-prefixed little-endian encoding with no
// checksum, corruption caught only by structural decode failure.
package snapshot

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes m as:
//
//	u32 count
//	repeat count times: u32 idLen, idBytes, u32 valLen, valBytes
//
// all integers little-endian. An empty map encodes to the 4 zero bytes
// "00 00 00 00".
func Encode(m map[string][]byte) []byte {
	size := 4
	for id, val := range m {
		size += 4 + len(id) + 4 + len(val)
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m)))
	off += 4

	for id, val := range m {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(id)))
		off += 4
		off += copy(buf[off:], id)

		binary.LittleEndian.PutUint32(buf[off:], uint32(len(val)))
		off += 4
		off += copy(buf[off:], val)
	}
	return buf
}

// Decode parses the layout Encode produces. Any structural inconsistency
// (truncation, a length field exceeding the remaining bytes) rejects the
// whole snapshot; the caller is expected to fall back to an empty map and
// rely on the journal for recovery.
func Decode(data []byte) (map[string][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("snapshot: truncated count header (have %d bytes)", len(data))
	}

	count := binary.LittleEndian.Uint32(data)
	off := 4

	m := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		id, next, err := readField(data, off)
		if err != nil {
			return nil, fmt.Errorf("snapshot: record %d id: %w", i, err)
		}
		off = next

		val, next, err := readField(data, off)
		if err != nil {
			return nil, fmt.Errorf("snapshot: record %d value: %w", i, err)
		}
		off = next

		valCopy := make([]byte, len(val))
		copy(valCopy, val)
		m[string(id)] = valCopy
	}

	if off != len(data) {
		return nil, fmt.Errorf("snapshot: %d trailing bytes after %d records", len(data)-off, count)
	}
	return m, nil
}

// readField reads one u32-length-prefixed byte field starting at off,
// returning the field bytes and the offset just past it.
func readField(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("truncated length prefix at offset %d", off)
	}
	length := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(length) > len(data) || length > uint32(len(data)) {
		return nil, 0, fmt.Errorf("length %d at offset %d exceeds remaining bytes", length, off)
	}
	field := data[off : off+int(length)]
	return field, off + int(length), nil
}
