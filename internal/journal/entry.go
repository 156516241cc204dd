// Package journal implements the write-ahead log: typed entries, their
// text serialization, append, replay, checkpoint tracking and truncation.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of mutation (or boundary marker) a JournalEntry
// records.
type Type string

const (
	Insert     Type = "INSERT"
	Update     Type = "UPDATE"
	Remove     Type = "REMOVE"
	Checkpoint Type = "CHECKPOINT"
)

// Entry is one line of the journal, decoded.
type Entry struct {
	Type      Type
	ID        string
	Data      []byte
	Timestamp time.Time
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// NewEntry stamps e with the current UTC time, truncated to millisecond
// precision as the wire format requires.
func NewEntry(typ Type, id string, data []byte) Entry {
	return Entry{
		Type:      typ,
		ID:        id,
		Data:      data,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Serialize renders e as one line, without the trailing newline:
// TYPE|ID|TIMESTAMP|ESCAPED_DATA.
func (e Entry) Serialize() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteByte('|')
	b.WriteString(e.ID)
	b.WriteByte('|')
	b.WriteString(e.Timestamp.Format(timestampLayout))
	b.WriteByte('|')
	b.WriteString(escape(e.Data))
	return b.String()
}

// Deserialize parses one journal line (without its trailing newline) back
// into an Entry. It is the exact inverse of Serialize's escaping.
func Deserialize(line string) (Entry, error) {
	parts := splitUnescaped(line, 4)
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("journal: malformed line: wrong field count (%d)", len(parts))
	}

	typ := Type(parts[0])
	switch typ {
	case Insert, Update, Remove, Checkpoint:
	default:
		return Entry{}, fmt.Errorf("journal: malformed line: unknown type %q", parts[0])
	}

	if parts[1] == "" {
		return Entry{}, fmt.Errorf("journal: malformed line: empty id")
	}

	ts, err := time.Parse(timestampLayout, parts[2])
	if err != nil {
		return Entry{}, fmt.Errorf("journal: malformed line: bad timestamp %q: %w", parts[2], err)
	}

	data, err := unescape(parts[3])
	if err != nil {
		return Entry{}, fmt.Errorf("journal: malformed line: %w", err)
	}

	return Entry{Type: typ, ID: parts[1], Data: data, Timestamp: ts}, nil
}

// escape applies the four substitutions the wire format requires, in the
// order that keeps them unambiguous on the way back: backslash first, then
// the characters that become two-character escapes.
func escape(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescape reverses escape exactly: any other backslash-prefixed byte is
// malformed input.
func unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("dangling escape at end of data")
		}
		switch s[i] {
		case '\\':
			out = append(out, '\\')
		case '|':
			out = append(out, '|')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		default:
			return nil, fmt.Errorf("unknown escape sequence \\%c", s[i])
		}
	}
	return out, nil
}

// splitUnescaped splits line on the first n-1 unescaped '|' bytes, leaving
// the remainder (still escaped) as the final field. A plain strings.Split
// would also break on escaped "\|" inside the data field.
func splitUnescaped(line string, n int) []string {
	fields := make([]string, 0, n)
	start := 0
	for i := 0; i < len(line) && len(fields) < n-1; i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] == '|' {
			fields = append(fields, line[start:i])
			start = i + 1
		}
	}
	fields = append(fields, line[start:])
	return fields
}
