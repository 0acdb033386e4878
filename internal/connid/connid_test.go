package connid

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    uint64
		want string
	}{
		{0, "00000000"},
		{1, "00000001"},
		{9, "00000009"},
		{10, "0000000A"},
		{35, "0000000Z"},
		{36, "0000000a"},
		{61, "0000000z"},
		{62, "00000010"},
		{3843, "000000zz"},
		{Max, "zzzzzzzz"},
		{Max + 1, "00000000"},
	}

	for _, tt := range tests {
		if got := Encode(tt.v); got != tt.want {
			t.Errorf("Encode(%d) = %q, want %q", tt.v, got, tt.want)
		}
		if tt.v > Max {
			continue
		}
		back, err := Decode(tt.want)
		if err != nil {
			t.Fatalf("Decode(%q): %v", tt.want, err)
		}
		if back != tt.v {
			t.Errorf("Decode(%q) = %d, want %d", tt.want, back, tt.v)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "0000", "000000000", "0000000-", "0000 000"} {
		if _, err := Decode(s); err == nil {
			t.Errorf("Decode(%q): expected error", s)
		}
	}
}

func TestSeedLeavesHeadroom(t *testing.T) {
	t.Parallel()

	g := NewAt(time.Date(2099, 12, 31, 23, 59, 59, 999999000, time.UTC))
	id := g.Next()
	if len(id) != Width {
		t.Fatalf("len(%q) = %d", id, len(id))
	}
	if id[0] != '0' {
		t.Fatalf("seeded id %q should start with 0", id)
	}
}

func TestNextIncrements(t *testing.T) {
	t.Parallel()

	g := NewFrom(61)
	if got := g.Next(); got != "0000000z" {
		t.Fatalf("first = %q", got)
	}
	if got := g.Next(); got != "00000010" {
		t.Fatalf("second = %q", got)
	}
}

func TestNextConcurrentUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		each    = 500
	)

	g := New()
	ids := make([][]string, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Go(func() {
			for range each {
				ids[w] = append(ids[w], g.Next())
			}
		})
	}
	wg.Wait()

	seen := make(map[string]bool, workers*each)
	var all []uint64
	for _, per := range ids {
		var prev uint64
		for i, id := range per {
			v, err := Decode(id)
			if err != nil {
				t.Fatal(err)
			}
			if i > 0 && v <= prev {
				t.Fatalf("ids from one goroutine not increasing: %d then %d", prev, v)
			}
			prev = v
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
			all = append(all, v)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] != all[i-1]+1 {
			t.Fatalf("gap or duplicate at %d: %d, %d", i, all[i-1], all[i])
		}
	}
}
