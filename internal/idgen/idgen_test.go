package idgen

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Errorf("Expected 36 chars, got %d: %q", len(id), id)
	}
	if strings.Count(id, "-") != 4 {
		t.Errorf("Expected 4 dashes, got %q", id)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("esc_")
	if !strings.HasPrefix(id, "esc_") {
		t.Errorf("Expected esc_ prefix, got %q", id)
	}
	if len(id) != len("esc_")+24 {
		t.Errorf("Expected prefix + 24 hex chars, got %d: %q", len(id), id)
	}
}

func TestHex_Length(t *testing.T) {
	if got := Hex(8); len(got) != 16 {
		t.Errorf("Hex(8) length = %d, want 16", len(got))
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("x_")
		if seen[id] {
			t.Fatalf("Duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}
