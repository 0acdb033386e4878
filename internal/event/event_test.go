package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEncodeTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"printable", []byte("Hello World"), "Hello World"},
		{"json escapes kept", []byte("a\tb\nc\rd\"e\\f"), "a\tb\nc\rd\"e\\f"},
		{"percent", []byte("100%"), "100%25"},
		{"control", []byte{0x00, 0x01, 0x08, 0x0c, 0x1f}, "%00%01%08%0C%1F"},
		{"del", []byte{0x7f}, "%7F"},
		{"high bytes", []byte{0x89, 'P', 'N', 'G', 0xff}, "%89PNG%FF"},
		{"utf8 byte by byte", []byte("caf\xc3\xa9"), "caf%C3%A9"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.in); got != tt.want {
				t.Fatalf("Encode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEveryByteRoundTripsThroughJSON(t *testing.T) {
	t.Parallel()

	for b := 0; b < 256; b++ {
		in := []byte{byte(b)}
		line, err := Data("00000001", "127.0.0.1:1", "127.0.0.1:2", in).MarshalLine()
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Contains(line, []byte(`\u`)) {
			t.Fatalf("byte %#02x produced a \\u escape: %s", b, line)
		}

		var rec struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("byte %#02x: %v: %s", b, err, line)
		}
		out, err := Decode(rec.Data)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("byte %#02x decoded to %q", b, out)
		}
	}
}

func TestAllBytesInOneChunk(t *testing.T) {
	t.Parallel()

	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}

	line, err := Data("00000001", "a:1", "b:2", in).MarshalLine()
	if err != nil {
		t.Fatal(err)
	}

	var rec map[string]string
	if err := json.Unmarshal(line, &rec); err != nil {
		t.Fatal(err)
	}
	out, err := Decode(rec["data"])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"%", "%2", "%zz", "abc%4"} {
		if _, err := Decode(s); err == nil {
			t.Errorf("Decode(%q): expected error", s)
		}
	}
}

func keys(t *testing.T, line []byte) []string {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader(line))
	if _, err := dec.Token(); err != nil {
		t.Fatal(err)
	}
	var ks []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			t.Fatal(err)
		}
		ks = append(ks, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			t.Fatal(err)
		}
	}
	return ks
}

func TestMarshalLineKeyOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"open", Open("0000000a", "127.0.0.1:5000", "example.com:80"), "time,ConnID,event,from,to"},
		{"close", Close("0000000a", "example.com:80", "127.0.0.1:5000"), "time,ConnID,event,from,to"},
		{"data", Data("0000000a", "127.0.0.1:5000", "example.com:80", []byte("x")), "time,ConnID,data,from,to"},
		{"start console", StartLogging("", "ignored"), "time,event,directory"},
		{"start dir", StartLogging("/var/log/rp", "rawprox_%Y.ndjson"), "time,event,directory,filename_format"},
		{"stop", StopLogging("/var/log/rp"), "time,event,directory"},
		{"ready", MCPReady("http://127.0.0.1:1234/mcp"), "time,event,endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := tt.ev.MarshalLine()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.HasSuffix(line, []byte("}\n")) || bytes.Count(line, []byte("\n")) != 1 {
				t.Fatalf("not a single LF-terminated object: %q", line)
			}
			if got := strings.Join(keys(t, line), ","); got != tt.want {
				t.Fatalf("keys = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshalLineValues(t *testing.T) {
	t.Parallel()

	ev := StopLogging("")
	ev.Time = time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC)
	line, err := ev.MarshalLine()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"time":"2025-01-02T03:04:05.000006Z","event":"stop-logging","directory":null}` + "\n"
	if string(line) != want {
		t.Fatalf("got %s want %s", line, want)
	}

	ev = Open("0000000a", "[::1]:5000", "localhost:80")
	ev.Time = time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	line, err = ev.MarshalLine()
	if err != nil {
		t.Fatal(err)
	}
	want = `{"time":"2025-01-02T02:04:05.000000Z","ConnID":"0000000a","event":"open","from":"[::1]:5000","to":"localhost:80"}` + "\n"
	if string(line) != want {
		t.Fatalf("got %s want %s", line, want)
	}
}

func TestMarshalLineEscapes(t *testing.T) {
	t.Parallel()

	ev := Data("0000000a", "a:1", "b:2", []byte("GET /test HTTP/1.1\r\nHost: <x>&\r\n\r\n"))
	line, err := ev.MarshalLine()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(line, []byte(`"data":"GET /test HTTP/1.1\r\nHost: <x>&\r\n\r\n"`)) {
		t.Fatalf("unexpected escaping: %s", line)
	}
}
