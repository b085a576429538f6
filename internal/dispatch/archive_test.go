package dispatch

import (
	"testing"
	"time"
)

type recordedArchiveEntry struct {
	network, target, nick, kind, body, rawLine string
}

type fakeArchiver struct {
	entries []recordedArchiveEntry
}

func (f *fakeArchiver) WriteArchiveEntry(network, target, nick, kind, body, rawLine string, timestamp time.Time) error {
	f.entries = append(f.entries, recordedArchiveEntry{network, target, nick, kind, body, rawLine})
	return nil
}

func TestArchivesPrivmsg(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher("alice")
	arch := &fakeArchiver{}
	d.SetArchiver(arch, "irc.example.org:6697")

	d.Dispatch(parse(t, ":bob!bob@host PRIVMSG #test :hello there"))

	if len(arch.entries) != 1 {
		t.Fatalf("expected 1 archived entry, got %d", len(arch.entries))
	}
	got := arch.entries[0]
	if got.network != "irc.example.org:6697" || got.target != "#test" || got.nick != "bob" || got.kind != "privmsg" || got.body != "hello there" {
		t.Fatalf("unexpected archived entry: %+v", got)
	}
	if got.rawLine == "" {
		t.Fatal("expected a non-empty raw line")
	}
}

func TestArchivesJoinPartKickTopic(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher("alice")
	arch := &fakeArchiver{}
	d.SetArchiver(arch, "net")

	d.Dispatch(parse(t, ":bob!bob@host JOIN #test"))
	d.Dispatch(parse(t, ":bob!bob@host TOPIC #test :new topic"))
	d.Dispatch(parse(t, ":bob!bob@host PART #test :bye"))
	d.Dispatch(parse(t, ":op!op@host KICK #test bob :rule violation"))

	kinds := make([]string, len(arch.entries))
	for i, e := range arch.entries {
		kinds[i] = e.kind
	}
	want := []string{"join", "topic", "part", "kick"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d archived entries, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("entry %d: expected kind %q, got %q", i, k, kinds[i])
		}
	}
}

func TestNoArchiverMeansNoPanic(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher("alice")
	d.Dispatch(parse(t, ":bob!bob@host PRIVMSG #test :hello"))
}
