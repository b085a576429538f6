package dcc

import (
	"testing"
	"time"
)

func TestBandwidthLimiterUnlimitedNeverBlocks(t *testing.T) {
	l := NewBandwidthLimiter(0)
	start := time.Now()
	l.WaitN(10_000_000)
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("unlimited limiter should not block")
	}
}

func TestBandwidthLimiterPacesThroughput(t *testing.T) {
	l := NewBandwidthLimiter(1000) // 1000 bytes/sec, burst of 1000
	l.WaitN(1000)                  // drains the initial burst
	start := time.Now()
	l.WaitN(500)
	elapsed := time.Since(start)
	if elapsed < 400*time.Millisecond {
		t.Fatalf("expected pacing to delay roughly 500ms, only waited %v", elapsed)
	}
}

func TestTransferSnapshotIsIndependentCopy(t *testing.T) {
	tr := &Transfer{ID: "t1", State: StateOffered, TotalBytes: 100}
	snap := tr.snapshot()
	tr.addProgress(50)
	if snap.TransferredBytes != 0 {
		t.Fatalf("snapshot should not observe later mutation")
	}
	if tr.snapshot().TransferredBytes != 50 {
		t.Fatalf("expected fresh snapshot to reflect progress")
	}
}

func TestTransferCompleteSetsChecksumAndState(t *testing.T) {
	tr := &Transfer{ID: "t1", State: StateTransferring}
	tr.complete("abc123")
	snap := tr.snapshot()
	if snap.State != StateCompleted || snap.Checksum != "abc123" {
		t.Fatalf("unexpected snapshot after complete: %+v", snap)
	}
}

func TestTransferCancelInvokesCallback(t *testing.T) {
	called := false
	tr := &Transfer{cancel: func() { called = true }}
	tr.Cancel()
	if !called {
		t.Fatalf("expected cancel callback to run")
	}
}
