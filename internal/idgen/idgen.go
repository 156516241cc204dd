// Package idgen generates the 36-character textual identifiers records and
// checkpoints are named with: 8-4-4-4-12 lowercase hex groups, version
// nibble fixed to 4, variant nibble restricted to 8/9/a/b.
//
// Layout (left to right), mirroring the source generator's bit packing:
//  1. low 32 bits of a monotonic-ish clock reading
//  2. bits 32..47 of the same clock reading
//  3. literal '4' + low 12 bits of a process-wide atomic counter
//  4. variant nibble (8/9/a/b) + 12 bits of random
//  5. 48 bits of random
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"
)

var counter atomic.Uint32

var validPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`,
)

// Generate returns a new identifier. It returns no error: if crypto/rand
// itself fails, that is treated as unrecoverable and Generate panics.
func Generate() string {
	now := uint64(time.Now().UnixNano())

	var randBuf [8]byte
	if _, err := rand.Read(randBuf[:]); err != nil {
		panic(fmt.Sprintf("idgen: crypto/rand unavailable: %v", err))
	}
	random := binary.BigEndian.Uint64(randBuf[:])

	count := counter.Add(1) - 1

	variant := 8 + (random & 0x3)
	variantBits := (random >> 2) & 0xFFF
	tail := (random >> 14) & 0xFFFFFFFFFFFF

	return fmt.Sprintf(
		"%08x-%04x-4%03x-%01x%03x-%012x",
		uint32(now&0xFFFFFFFF),
		uint16((now>>32)&0xFFFF),
		count&0xFFF,
		variant,
		variantBits,
		tail,
	)
}

// Valid reports whether s is a well-formed, lowercase identifier matching
// the structure Generate produces.
func Valid(s string) bool {
	return validPattern.MatchString(s)
}
