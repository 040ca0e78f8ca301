package pathutil

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"a/b/":      "a/b",
		"a//b":      "a/b",
		"./a":       "a",
		"a/./b/../c": "a/c",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanShort(t *testing.T) {
	good := map[string]string{
		"a":        "a",
		"a/b/c":    "a/b/c",
		"a//b/":    "a/b",
		"..a":      "..a",
		"a/../b":   "b",
	}
	for in, want := range good {
		got, err := CleanShort(in)
		if err != nil {
			t.Fatalf("CleanShort(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("CleanShort(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "/abs/path", ".", "..", "../x", "a/../.."} {
		if _, err := CleanShort(bad); !errors.Is(err, ErrUnsafe) {
			t.Fatalf("CleanShort(%q): expected ErrUnsafe, got %v", bad, err)
		}
	}
}
