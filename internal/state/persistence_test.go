package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPersisterLoadMissingFileYieldsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(filepath.Join(dir, "state.json"))
	snap, err := p.Load(time.Now())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if snap.SchemaVersion != schemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", snap.SchemaVersion, schemaVersion)
	}
	if len(snap.Connections) != 0 {
		t.Fatalf("expected empty connections, got %v", snap.Connections)
	}
}

func TestPersisterFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p := NewPersister(path)
	if _, err := p.Load(time.Now()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	p.Update(Snapshot{
		Connections:   []ConnectionInfo{{Host: "irc.example.com", Port: 6697, Nick: "bob"}},
		LastServerKey: "irc.example.com:6697",
	})
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	p2 := NewPersister(path)
	snap, err := p2.Load(time.Now())
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if len(snap.Connections) != 1 || snap.Connections[0].Nick != "bob" {
		t.Fatalf("reloaded snapshot mismatch: %+v", snap)
	}
	if snap.LastServerKey != "irc.example.com:6697" {
		t.Fatalf("LastServerKey = %q", snap.LastServerKey)
	}
}

func TestPersisterQuarantinesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("setup WriteFile error: %v", err)
	}
	p := NewPersister(path)
	now := time.Unix(1700000000, 0)
	snap, err := p.Load(now)
	if err != nil {
		t.Fatalf("Load should quarantine, not error: %v", err)
	}
	if len(snap.Connections) != 0 {
		t.Fatalf("expected empty snapshot after quarantine, got %+v", snap)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original corrupt file should have been renamed away")
	}
	quarantined := path + ".corrupt.1700000000"
	if _, err := os.Stat(quarantined); err != nil {
		t.Fatalf("expected quarantine file %s to exist: %v", quarantined, err)
	}
}
