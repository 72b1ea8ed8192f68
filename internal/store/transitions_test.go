package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "serving", false},
		{"call", "completed", false},
		{"call", "cancelled", false},
		{"complete", "serving", true},
		{"complete", "waiting", false},
		{"complete", "completed", false},
		{"cancel", "waiting", true},
		{"cancel", "serving", true},
		{"cancel", "cancelled", false},
		{"cancel", "completed", false},
		{"reorder", "waiting", true},
		{"reorder", "serving", false},
		{"reset", "waiting", true},
		{"reset", "serving", true},
		{"reset", "completed", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
