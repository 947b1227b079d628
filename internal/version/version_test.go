package version

import (
	"strings"
	"testing"
)

func TestShortCommit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc123", "abc123"},
		{"0123456789abcdef0123", "0123456789ab"},
	}
	for _, tt := range tests {
		if got := shortCommit(tt.in); got != tt.want {
			t.Fatalf("shortCommit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveAlwaysHasVersion(t *testing.T) {
	t.Parallel()

	info := Resolve()
	if info.Version == "" {
		t.Fatalf("empty version")
	}
	if info.GoVersion == "" {
		t.Fatalf("go version = %q", info.GoVersion)
	}
	if !strings.HasPrefix(String(), info.Version) {
		t.Fatalf("String() = %q does not start with %q", String(), info.Version)
	}
}
