package logsink

import (
	"strconv"
	"strings"
	"time"
)

// DefaultFilenameFormat names one file per UTC hour.
const DefaultFilenameFormat = "rawprox_%Y-%m-%d-%H.ndjson"

// FormatFilename expands pattern against t (converted to UTC).
//
// Supported tokens: %Y (4-digit year), %m, %d, %H, %M, %S (2 digits each),
// %% (literal percent) and {timestamp} (2006-01-02T150405). Unknown %
// sequences are copied unchanged.
func FormatFilename(pattern string, t time.Time) string {
	t = t.UTC()

	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 == len(pattern) {
			sb.WriteByte(c)
			continue
		}

		i++
		switch pattern[i] {
		case 'Y':
			sb.WriteString(pad(t.Year(), 4))
		case 'm':
			sb.WriteString(pad(int(t.Month()), 2))
		case 'd':
			sb.WriteString(pad(t.Day(), 2))
		case 'H':
			sb.WriteString(pad(t.Hour(), 2))
		case 'M':
			sb.WriteString(pad(t.Minute(), 2))
		case 'S':
			sb.WriteString(pad(t.Second(), 2))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(pattern[i])
		}
	}

	return strings.ReplaceAll(sb.String(), "{timestamp}", t.Format("2006-01-02T150405"))
}

func pad(v, width int) string {
	s := strconv.Itoa(v)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
