package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestMaskContact(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"5511999990000": "...0000",
		"123":           "...123",
		"  +5511987 ":   "...1987",
	}
	for in, want := range cases {
		if got := MaskContact(in); got != want {
			t.Fatalf("MaskContact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if lv, ok := parseLevel("WARN"); !ok || lv != slog.LevelWarn {
		t.Fatalf("expected warn level, got %v %v", lv, ok)
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("unknown level must not be accepted")
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}
