package version

import (
	"strings"
	"testing"
)

func TestFullUsesInjectedCommit(t *testing.T) {
	prev := Commit
	Commit = "abc1234"
	t.Cleanup(func() { Commit = prev })

	if got := Full(); got != "vod-cache "+Version+" (abc1234)" {
		t.Fatalf("unexpected version string %q", got)
	}
}

func TestFullFallsBackWithoutCommit(t *testing.T) {
	prev := Commit
	Commit = ""
	t.Cleanup(func() { Commit = prev })

	got := Full()
	if !strings.HasPrefix(got, "vod-cache "+Version+" (") || strings.HasSuffix(got, "()") {
		t.Fatalf("unexpected version string %q", got)
	}
}
