package ai

import (
	"strings"
	"testing"
)

func TestTruncateStringShortInput(t *testing.T) {
	s := "short string"
	if got := truncateString(s, 100); got != s {
		t.Errorf("expected no truncation for short string, got %q", got)
	}
}

func TestTruncateStringExactLength(t *testing.T) {
	s := strings.Repeat("x", 50)
	if got := truncateString(s, 50); got != s {
		t.Errorf("expected no truncation at exact length, got %q", got)
	}
}

func TestTruncateStringLongInput(t *testing.T) {
	s := strings.Repeat("x", 200)
	got := truncateString(s, 50)
	if len(got) != 53 {
		t.Errorf("expected 50 chars plus ellipsis, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
}
