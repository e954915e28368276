package dnc

import (
	"context"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+1 (415) 555-1212", "14155551212"},
		{"14155551212", "14155551212"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMemoryChecker_MatchesAcrossFormatting(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryChecker()
	m.Add("u1", "+1 (415) 555-1212")

	excluded, err := m.IsExcluded(ctx, "u1", "14155551212")
	if err != nil {
		t.Fatalf("IsExcluded: %v", err)
	}
	if !excluded {
		t.Fatalf("expected number to be excluded")
	}

	excluded, _ = m.IsExcluded(ctx, "u2", "14155551212")
	if excluded {
		t.Fatalf("exclusion must be per user")
	}
	excluded, _ = m.IsExcluded(ctx, "u1", "14155550000")
	if excluded {
		t.Fatalf("unlisted number must not be excluded")
	}
}
