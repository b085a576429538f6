package state

import (
	"errors"
	"testing"
)

func TestSetSuccessInvokesHandlersOnce(t *testing.T) {
	s := New(nil)
	var calls int
	var lastOld, lastNew interface{}
	s.Subscribe("nick", func(key string, old, new interface{}) {
		calls++
		lastOld, lastNew = old, new
	})

	if err := s.Set("nick", "alice"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := s.Get("nick")
	if !ok || got != "alice" {
		t.Fatalf("Get = %v, %v; want alice, true", got, ok)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	if lastOld != nil || lastNew != "alice" {
		t.Fatalf("handler saw (%v, %v), want (nil, alice)", lastOld, lastNew)
	}
}

func TestSetFailureLeavesValuePreservedAndFiresNoHandlers(t *testing.T) {
	s := New(nil)
	s.RegisterValidator("nick", func(old, new interface{}) error {
		if new == "bad" {
			return errors.New("bad nick")
		}
		return nil
	})
	var calls int
	s.Subscribe("nick", func(string, interface{}, interface{}) { calls++ })

	if err := s.Set("nick", "good"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Set("nick", "bad"); err == nil {
		t.Fatal("expected validation error")
	}

	got, _ := s.Get("nick")
	if got != "good" {
		t.Fatalf("Get = %v, want unchanged 'good'", got)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1 (only for the successful set)", calls)
	}
}

func TestReentrantSetRejected(t *testing.T) {
	s := New(nil)
	var reentryErr error
	s.Subscribe("k", func(key string, old, new interface{}) {
		reentryErr = s.Set("k", "again")
	})
	if err := s.Set("k", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reentryErr == nil {
		t.Fatal("expected re-entrant Set to be rejected")
	}
	got, _ := s.Get("k")
	if got != "first" {
		t.Fatalf("Get = %v, want 'first' (re-entrant set must not apply)", got)
	}
}

func TestGlobalHandlerFiresForAnyKey(t *testing.T) {
	s := New(nil)
	seen := make(map[string]bool)
	s.Subscribe("*", func(key string, old, new interface{}) {
		seen[key] = true
	})
	s.Set("a", 1)
	s.Set("b", 2)
	if !seen["a"] || !seen["b"] {
		t.Fatalf("global handler missed keys: %v", seen)
	}
}
