package config

import "testing"

func TestAddAndRemoveIgnorePattern(t *testing.T) {
	cfg := &Config{IgnorePatterns: make(map[string]bool)}

	if !cfg.AddIgnorePattern("Spammer!*@*") {
		t.Fatalf("expected first add to report true")
	}
	if cfg.AddIgnorePattern("spammer!*@*") {
		t.Fatalf("expected duplicate (case-insensitive) add to report false")
	}
	if !cfg.IsSourceIgnored("spammer!x@y") {
		t.Fatalf("expected normalized pattern to match")
	}
	if !cfg.RemoveIgnorePattern("SPAMMER!*@*") {
		t.Fatalf("expected remove to report true")
	}
	if cfg.IsSourceIgnored("spammer!x@y") {
		t.Fatalf("expected pattern to no longer match after removal")
	}
}
