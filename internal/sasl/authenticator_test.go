package sasl

import (
	"sync"
	"testing"
)

type fakeSender struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSender) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[len(f.lines)-1]
}

type fakeCapNotifier struct {
	mu      sync.Mutex
	results []bool
}

func (f *fakeCapNotifier) OnSaslFlowCompleted(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, success)
}

func TestSaslPlainSuccess(t *testing.T) {
	sender := &fakeSender{}
	capN := &fakeCapNotifier{}
	var gotErr error
	done := make(chan struct{})
	a := New(sender, capN, Options{Username: "alice", Password: "secret"}, func(err error) {
		gotErr = err
		close(done)
	})

	a.Start()
	if sender.last() != "AUTHENTICATE PLAIN" {
		t.Fatalf("first line = %q, want AUTHENTICATE PLAIN", sender.last())
	}

	a.OnAuthenticateChallenge("+")
	want := "AUTHENTICATE AGFsaWNlAHNlY3JldA=="
	if sender.last() != want {
		t.Fatalf("payload line = %q, want %q", sender.last(), want)
	}

	a.OnNumeric("903", "SASL authentication successful")
	<-done

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if !a.Succeeded() {
		t.Fatal("expected Succeeded() true")
	}
	if len(capN.results) != 1 || !capN.results[0] {
		t.Fatalf("cap notifier results = %v, want [true]", capN.results)
	}
}

func TestSaslDeniedMapsTo904(t *testing.T) {
	sender := &fakeSender{}
	capN := &fakeCapNotifier{}
	var gotErr error
	done := make(chan struct{})
	a := New(sender, capN, Options{Username: "bob", Password: "wrong"}, func(err error) {
		gotErr = err
		close(done)
	})
	a.Start()
	a.OnAuthenticateChallenge("+")
	a.OnNumeric("904", "Invalid credentials")
	<-done

	if gotErr == nil {
		t.Fatal("expected an error")
	}
	if len(capN.results) != 1 || capN.results[0] {
		t.Fatalf("cap notifier results = %v, want [false]", capN.results)
	}
}

func TestSaslSkippedWithoutCredentials(t *testing.T) {
	sender := &fakeSender{}
	capN := &fakeCapNotifier{}
	var gotErr error
	done := make(chan struct{})
	a := New(sender, capN, Options{}, func(err error) {
		gotErr = err
		close(done)
	})
	a.Start()
	<-done

	if gotErr == nil {
		t.Fatal("expected an error when no credentials configured")
	}
	if len(sender.lines) != 0 {
		t.Fatalf("expected no lines sent, got %v", sender.lines)
	}
}
