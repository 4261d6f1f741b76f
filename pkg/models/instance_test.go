package models

import (
	"regexp"
	"testing"
)

func TestNewInstanceIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^sad_[a-f0-9]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewInstanceID()
		if !pattern.MatchString(id) {
			t.Fatalf("NewInstanceID() = %q, want match for %s", id, pattern)
		}
		if seen[id] {
			t.Fatalf("NewInstanceID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestValidInstanceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"sad_deadbeef", true},
		{"sad_00000000", true},
		{"sad_a1b2c3d4", true},
		{"", false},
		{"not-a-real-id", false},
		{"sad_deadbee", false},     // too short
		{"sad_deadbeef1", false},   // too long
		{"sad_DEADBEEF", false},    // uppercase hex
		{"sid_deadbeef", false},    // wrong prefix
		{"sad_deadbeeg", false},    // non-hex
		{" sad_deadbeef", false},   // leading junk
		{"sad_deadbeef\n", false},  // trailing junk
		{"sad_../../etc", false},   // path traversal attempt
		{"sad_aaaa;rm -rf", false}, // command injection attempt
	}

	for _, tt := range tests {
		if got := ValidInstanceID(tt.id); got != tt.valid {
			t.Errorf("ValidInstanceID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestWSPathFor(t *testing.T) {
	id := NewInstanceID()
	if got, want := WSPathFor(id), "/ws/"+id; got != want {
		t.Errorf("WSPathFor(%q) = %q, want %q", id, got, want)
	}
}
