package version

import (
	"strings"
	"testing"
)

func TestStringIncludesShortCommit(t *testing.T) {
	// Mutates package variables, so not parallel.
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version = "v0.3.0"
	Commit = "0123456789abcdef"
	if got := String(); got != "v0.3.0 (0123456789ab)" {
		t.Fatalf("String() = %q", got)
	}
	Commit = ""
	if got := String(); got != "v0.3.0" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveFillsRuntime(t *testing.T) {
	info := Resolve()
	if info.Version == "" || !strings.Contains(info.Platform, "/") || info.GoVersion == "" {
		t.Fatalf("incomplete info %+v", info)
	}
	if CPUString() == "" {
		t.Fatal("CPUString returned empty string")
	}
}
