package logsink

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFormatFilename(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, time.March, 7, 4, 5, 9, 0, time.UTC)

	tests := []struct {
		pattern string
		want    string
	}{
		{DefaultFilenameFormat, "rawprox_2025-03-07-04.ndjson"},
		{"%Y%m%d_%H%M%S.log", "20250307_040509.log"},
		{"100%%.ndjson", "100%.ndjson"},
		{"capture-{timestamp}.ndjson", "capture-2025-03-07T040509.ndjson"},
		{"%q-%", "%q-%"},
		{"plain.ndjson", "plain.ndjson"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := FormatFilename(tt.pattern, ts); got != tt.want {
				t.Fatalf("FormatFilename(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestFormatFilenameUsesUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2025, time.January, 1, 8, 0, 0, 0, loc)

	if got, want := FormatFilename("%Y-%m-%d-%H", ts), "2024-12-31-23"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDestination(t *testing.T) {
	t.Parallel()

	console := Destination{}
	if !console.IsConsole() || console.Key() != "" || console.String() != "console" || console.Path(time.Now()) != "" {
		t.Fatalf("unexpected console destination %+v", console)
	}

	dir := Destination{Directory: "logs/./a/"}
	if dir.IsConsole() {
		t.Fatal("directory destination reported as console")
	}
	if got, want := dir.Key(), filepath.Join("logs", "a"); got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}

	ts := time.Date(2025, time.March, 7, 4, 0, 0, 0, time.UTC)
	if got, want := dir.Path(ts), filepath.Join("logs", "a", "rawprox_2025-03-07-04.ndjson"); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}
