package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

// Record is one decoded NDJSON line. Keys keeps the order fields appeared
// in on the wire.
type Record struct {
	Keys   []string
	Fields map[string]any
}

func (r Record) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// ParseLines decodes every line of b as a JSON object. Each line must end
// with LF and contain no embedded raw newline.
func ParseLines(t *testing.T, b []byte) []Record {
	t.Helper()

	if len(b) > 0 && b[len(b)-1] != '\n' {
		t.Fatalf("output does not end with newline: %q", b)
	}

	var recs []Record
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		recs = append(recs, parseRecord(t, sc.Bytes()))
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return recs
}

func parseRecord(t *testing.T, line []byte) Record {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		t.Fatalf("line %q is not a JSON object", line)
	}

	rec := Record{Fields: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		key := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		rec.Keys = append(rec.Keys, key)
		rec.Fields[key] = v
	}
	if _, err := dec.Token(); err != nil {
		t.Fatalf("line %q: %v", line, err)
	}
	return rec
}

// SyncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Bytes returns a copy of everything written so far.
func (b *SyncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
