package registration

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

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func TestNickCollisionRetryThenWelcome(t *testing.T) {
	sender := &fakeSender{}
	var gotNick string
	var gotErr error
	done := make(chan struct{})
	h := New(sender, Options{Nick: "desirednick", Username: "user", RealName: "Real Name"}, func(nick string, err error) {
		gotNick, gotErr = nick, err
		close(done)
	})

	if err := h.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	h.OnNickInUse() // 433 -> desirednick_
	h.OnNickInUse() // second 433 -> desirednick__
	h.OnWelcome("desirednick__")
	<-done

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotNick != "desirednick__" {
		t.Fatalf("confirmed nick = %q, want desirednick__", gotNick)
	}

	lines := sender.all()
	want := []string{
		"NICK desirednick",
		"USER user 0 * :Real Name",
		"NICK desirednick_",
		"NICK desirednick__",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestNickCollisionExhaustsRetries(t *testing.T) {
	sender := &fakeSender{}
	var gotErr error
	done := make(chan struct{})
	h := New(sender, Options{Nick: "x", Username: "u", RealName: "R"}, func(nick string, err error) {
		gotErr = err
		close(done)
	})
	h.Start()
	for i := 0; i < maxNickRetries+1; i++ {
		h.OnNickInUse()
	}
	<-done
	if gotErr == nil {
		t.Fatal("expected NickUnavailable error after exhausting retries")
	}
}
