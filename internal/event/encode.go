package event

import (
	"errors"
	"strings"
)

const upperHex = "0123456789ABCDEF"

var errBadEscape = errors.New("event: malformed percent escape")

// Encode converts raw payload bytes into the logical string stored in the
// data field of a traffic record.
//
// Printable ASCII is kept as-is. TAB, LF, CR, '"' and '\' are kept as
// characters; the JSON serializer turns them into \t, \n, \r, \" and \\.
// '%' becomes %25 and every other byte below 0x20 or at/above 0x7F becomes
// %XX with uppercase hex. The result is pure ASCII, so the serializer never
// needs a \uXXXX escape.
func Encode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))

	for _, c := range b {
		switch {
		case c == '\t' || c == '\n' || c == '\r' || c == '"' || c == '\\':
			sb.WriteByte(c)
		case c == '%':
			sb.WriteString("%25")
		case c >= 0x20 && c <= 0x7e:
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0x0f])
		}
	}

	return sb.String()
}

// Decode reverses Encode: every %XX sequence becomes the byte XX and all
// other characters are copied through.
func Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(s) {
			return nil, errBadEscape
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return nil, errBadEscape
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
