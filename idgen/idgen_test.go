package idgen

import (
	"strings"
	"testing"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		if id := NanoID(length)(); len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		id := gen()
		if len(id) != 36 {
			t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
		}
		if id <= prev {
			t.Fatalf("UUIDv7: %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("req_", NanoID(8))()
	if !strings.HasPrefix(id, "req_") || len(id) != 12 {
		t.Fatalf("Prefixed: got %q", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("b")
	if a, b := gen(), gen(); a != "b1" || b != "b2" {
		t.Fatalf("Sequence: got %q, %q", a, b)
	}
}

func TestParseBuildID(t *testing.T) {
	id := New()
	got, err := ParseBuildID(id)
	if err != nil {
		t.Fatalf("ParseBuildID(%q): %v", id, err)
	}
	if got != id {
		t.Fatalf("ParseBuildID: got %q, want %q", got, id)
	}
	for _, bad := range []string{"", "bld_", "bld_not-a-uuid", "0190a0b0-0000-7000-8000-000000000000"} {
		if _, err := ParseBuildID(bad); err == nil {
			t.Errorf("ParseBuildID(%q): expected error", bad)
		}
	}
}
