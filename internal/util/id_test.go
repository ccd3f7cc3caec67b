package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("lane")
	if !strings.HasPrefix(id, "lane_") {
		t.Fatalf("expected lane_ prefix, got %q", id)
	}
	if len(id) != len("lane_")+32 {
		t.Fatalf("unexpected id length %d", len(id))
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := NewID("")
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
