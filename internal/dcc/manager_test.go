package dcc

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cascade-irc/client/internal/events"
)

type fakeSender struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSender) SendCTCP(peer, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, payload)
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

func waitForTransferState(t *testing.T, m *Manager, id string, want TransferState) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := m.Get(id); ok && snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := m.Get(id)
	t.Fatalf("timed out waiting for state %s, last seen %+v", want, snap)
	return Snapshot{}
}

func newTestManager(t *testing.T, downloadDir string) (*Manager, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	opts := Options{
		DownloadDir:         downloadDir,
		PublicIP:            "127.0.0.1",
		PassiveTokenTimeout: 2 * time.Second,
		CleanupInterval:     time.Hour,
	}
	m := New(opts, sender, events.NewEventBus())
	t.Cleanup(m.Stop)
	return m, sender
}

func TestActiveSendAndReceiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "hello.txt")
	content := []byte("hello over dcc, repeated several times to exercise chunking\n")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	senderMgr, senderSender := newTestManager(t, dstDir)
	receiverMgr, _ := newTestManager(t, dstDir)
	_ = senderSender

	sendID, err := senderMgr.OfferSend("bob", srcPath)
	if err != nil {
		t.Fatalf("OfferSend: %v", err)
	}

	offerLine := senderSender.last()
	incoming, err := receiverMgr.HandleIncomingCTCP("alice", offerLine)
	if err != nil {
		t.Fatalf("HandleIncomingCTCP: %v", err)
	}
	if incoming.Filename != "hello.txt" {
		t.Fatalf("expected filename hello.txt, got %q", incoming.Filename)
	}

	if err := receiverMgr.AcceptReceive(incoming.ID); err != nil {
		t.Fatalf("AcceptReceive: %v", err)
	}

	waitForTransferState(t, senderMgr, sendID, StateCompleted)
	recvSnap := waitForTransferState(t, receiverMgr, incoming.ID, StateCompleted)

	got, err := os.ReadFile(filepath.Join(dstDir, "hello.txt"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("received content mismatch")
	}
	if recvSnap.Checksum == "" {
		t.Fatalf("expected a checksum to be recorded")
	}

	senderSnap, _ := senderMgr.Get(sendID)
	checksumLine := FormatChecksumCTCP("hello.txt", "sha256", senderSnap.Checksum)
	if _, err := receiverMgr.HandleIncomingCTCP("alice", checksumLine); err != nil {
		t.Fatalf("checksum verification should succeed for a matching digest: %v", err)
	}
	if _, err := receiverMgr.HandleIncomingCTCP("alice", FormatChecksumCTCP("hello.txt", "sha256", "0000")); err == nil {
		t.Fatalf("expected checksum verification to fail for a mismatched digest")
	}
}

func TestPassiveSendAndReceiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "passive.bin")
	if err := os.WriteFile(srcPath, []byte("passive payload"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	senderMgr, senderSender := newTestManager(t, dstDir)
	receiverMgr, receiverSender := newTestManager(t, dstDir)

	sendID, err := senderMgr.OfferPassiveSend("bob", srcPath)
	if err != nil {
		t.Fatalf("OfferPassiveSend: %v", err)
	}

	offerLine := senderSender.last()
	incoming, err := receiverMgr.HandleIncomingCTCP("alice", offerLine)
	if err != nil {
		t.Fatalf("HandleIncomingCTCP: %v", err)
	}
	if !incoming.Passive {
		t.Fatalf("expected a passive offer")
	}

	if err := receiverMgr.AcceptReceive(incoming.ID); err != nil {
		t.Fatalf("AcceptReceive: %v", err)
	}

	acceptLine := receiverSender.last()
	if _, err := senderMgr.HandleIncomingCTCP("alice", acceptLine); err != nil {
		t.Fatalf("sender HandleIncomingCTCP(ACCEPT): %v", err)
	}

	waitForTransferState(t, senderMgr, sendID, StateCompleted)
	waitForTransferState(t, receiverMgr, incoming.ID, StateCompleted)

	got, err := os.ReadFile(filepath.Join(dstDir, "passive.bin"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(got) != "passive payload" {
		t.Fatalf("received content mismatch: %q", got)
	}
}

func TestAcceptReceiveRejectsBlockedExtension(t *testing.T) {
	dstDir := t.TempDir()
	sender := &fakeSender{}
	m := New(Options{DownloadDir: dstDir, BlockedExtensions: []string{".exe"}}, sender, events.NewEventBus())
	defer m.Stop()

	t2 := &Transfer{
		ID:         "t1",
		Peer:       "bob",
		Filename:   "virus.exe",
		Direction:  DirectionReceive,
		State:      StateOffered,
		TotalBytes: 10,
		IP:         "127.0.0.1",
		Port:       1,
	}
	m.register(t2)

	if err := m.AcceptReceive("t1"); err == nil {
		t.Fatalf("expected blocked-extension error")
	}
	snap, _ := m.Get("t1")
	if snap.State != StateFailed {
		t.Fatalf("expected transfer to be marked failed, got %+v", snap)
	}
}

func TestChecksumVerificationDetectsMismatch(t *testing.T) {
	dstDir := t.TempDir()
	sender := &fakeSender{}
	m := New(Options{DownloadDir: dstDir}, sender, events.NewEventBus())
	defer m.Stop()

	tr := &Transfer{ID: "t1", Peer: "bob", Filename: "f.txt", Direction: DirectionReceive, State: StateCompleted}
	tr.complete("realchecksum")
	m.register(tr)

	line := FormatChecksumCTCP("f.txt", "sha256", "wrongchecksum")
	if err := m.VerifyChecksum("bob", line); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestSweepExpiresStalePassiveOffers(t *testing.T) {
	dstDir := t.TempDir()
	sender := &fakeSender{}
	m := New(Options{DownloadDir: dstDir, PassiveTokenTimeout: time.Millisecond}, sender, events.NewEventBus())
	defer m.Stop()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "f.txt")
	_ = os.WriteFile(srcPath, []byte("x"), 0o644)

	id, err := m.OfferPassiveSend("bob", srcPath)
	if err != nil {
		t.Fatalf("OfferPassiveSend: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	m.sweep()

	snap, _ := m.Get(id)
	if snap.State != StateFailed {
		t.Fatalf("expected expired passive offer to be marked failed, got %+v", snap)
	}
}
