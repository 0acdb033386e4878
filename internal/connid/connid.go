package connid

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// Alphabet is the base-62 digit set; a digit's value is its index.
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Width is the number of characters in every ID.
	Width = 8

	// seedDigits is how many low base-62 digits of the clock seed a
	// Generator. Leaving the top digit zero guarantees 61*62^7 increments
	// before the counter could outgrow Width.
	seedDigits = Width - 1
)

var (
	errWidth = errors.New("connid: wrong width")
	errDigit = errors.New("connid: invalid digit")
)

// Max is the largest value representable in Width digits.
var Max = pow62(Width) - 1

// Generator issues unique, strictly increasing IDs. The zero value is not
// usable; call New.
type Generator struct {
	next atomic.Uint64
}

// New returns a Generator seeded from the current time.
func New() *Generator {
	return NewAt(time.Now())
}

// NewAt returns a Generator seeded from t, using the last seven base-62
// digits of t in microseconds since the Unix epoch.
func NewAt(t time.Time) *Generator {
	g := &Generator{}
	g.next.Store(uint64(t.UnixMicro()) % pow62(seedDigits))
	return g
}

// NewFrom returns a Generator whose first ID encodes v.
func NewFrom(v uint64) *Generator {
	g := &Generator{}
	g.next.Store(v)
	return g
}

// Next returns the next ID.
func (g *Generator) Next() string {
	return Encode(g.next.Add(1) - 1)
}

// Encode formats v as a zero-padded, Width-character base-62 string. Values
// above Max keep only their low Width digits.
func Encode(v uint64) string {
	var buf [Width]byte
	for i := Width - 1; i >= 0; i-- {
		buf[i] = Alphabet[v%62]
		v /= 62
	}
	return string(buf[:])
}

// Decode parses a Width-character ID back into its numeric value.
func Decode(s string) (uint64, error) {
	if len(s) != Width {
		return 0, fmt.Errorf("%w: %q", errWidth, s)
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(Alphabet, s[i])
		if d < 0 {
			return 0, fmt.Errorf("%w %q in %q", errDigit, s[i], s)
		}
		v = v*62 + uint64(d)
	}
	return v, nil
}

func pow62(n int) uint64 {
	v := uint64(1)
	for range n {
		v *= 62
	}
	return v
}
