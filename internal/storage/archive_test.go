package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestArchiveStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	s, err := NewStorage(dbPath, 16, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteArchiveEntryAndGetArchive(t *testing.T) {
	s := newTestArchiveStorage(t)

	entry := ArchiveEntry{
		Network:   "irc.libera.chat:6697",
		Target:    "#gophers",
		Nick:      "gopher",
		Body:      "hello world",
		Kind:      "privmsg",
		Timestamp: time.Now(),
		RawLine:   ":gopher!g@h PRIVMSG #gophers :hello world",
	}
	if err := s.WriteArchiveEntry(entry); err != nil {
		t.Fatalf("WriteArchiveEntry: %v", err)
	}

	// force the entry through the buffer synchronously rather than racing the
	// background flush loop
	s.flushArchiveBuffer()

	got, err := s.GetArchive(entry.Network, entry.Target, 10)
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Body != entry.Body || got[0].Nick != entry.Nick || got[0].Kind != entry.Kind {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
}

func TestGetArchiveScopedByNetworkAndTarget(t *testing.T) {
	s := newTestArchiveStorage(t)

	entries := []ArchiveEntry{
		{Network: "a:6667", Target: "#chan", Nick: "x", Body: "one", Kind: "privmsg", Timestamp: time.Now()},
		{Network: "a:6667", Target: "#other", Nick: "x", Body: "two", Kind: "privmsg", Timestamp: time.Now()},
		{Network: "b:6667", Target: "#chan", Nick: "x", Body: "three", Kind: "privmsg", Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := s.WriteArchiveEntry(e); err != nil {
			t.Fatalf("WriteArchiveEntry: %v", err)
		}
	}
	s.flushArchiveBuffer()

	got, err := s.GetArchive("a:6667", "#chan", 10)
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if len(got) != 1 || got[0].Body != "one" {
		t.Fatalf("expected only the matching network/target entry, got %+v", got)
	}
}

func TestSearchArchiveMatchesBody(t *testing.T) {
	s := newTestArchiveStorage(t)

	entries := []ArchiveEntry{
		{Network: "a:6667", Target: "#chan", Nick: "x", Body: "the quick brown fox", Kind: "privmsg", Timestamp: time.Now()},
		{Network: "a:6667", Target: "#chan", Nick: "x", Body: "lazy dog", Kind: "privmsg", Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := s.WriteArchiveEntry(e); err != nil {
			t.Fatalf("WriteArchiveEntry: %v", err)
		}
	}
	s.flushArchiveBuffer()

	got, err := s.SearchArchive("a:6667", "#chan", "fox", 10)
	if err != nil {
		t.Fatalf("SearchArchive: %v", err)
	}
	if len(got) != 1 || got[0].Body != "the quick brown fox" {
		t.Fatalf("expected one fox match, got %+v", got)
	}
}

func TestWriteArchiveEntryAfterCloseErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	s, err := NewStorage(dbPath, 16, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = s.WriteArchiveEntry(ArchiveEntry{Network: "a:6667", Target: "#chan", Body: "late", Kind: "privmsg", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected an error writing to closed storage")
	}
}
