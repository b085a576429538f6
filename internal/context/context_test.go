package context

import "testing"

func TestAppendEvictsOldest(t *testing.T) {
	c := newContext("status", KindStatus, 3)
	for i := 0; i < 5; i++ {
		c.Append(string(rune('a' + i)))
	}
	lines := c.IterFrom(0)
	if len(lines) != 3 {
		t.Fatalf("expected 3 retained lines, got %d", len(lines))
	}
	if lines[0].Text != "c" || lines[2].Text != "e" {
		t.Fatalf("unexpected retained lines: %+v", lines)
	}
}

func TestManagerEnumerationOrder(t *testing.T) {
	m := NewManager(500)
	m.EnsureChannel("#b")
	m.EnsureChannel("#a")
	m.EnsureQuery("carol")
	m.EnsureQuery("alice")

	all := m.All()
	if all[0].Kind != KindStatus {
		t.Fatalf("first context should be status, got %+v", all[0])
	}
	if all[1].ID != "#b" || all[2].ID != "#a" {
		t.Fatalf("channels should be in join order, got %v, %v", all[1].ID, all[2].ID)
	}
	if all[3].ID != "carol" || all[4].ID != "alice" {
		t.Fatalf("queries should be in first-message order, got %v, %v", all[3].ID, all[4].ID)
	}
}

func TestIterFromOffset(t *testing.T) {
	c := newContext("#x", KindChannel, 10)
	c.Append("one")
	c.Append("two")
	seq := c.Append("three")
	lines := c.IterFrom(seq)
	if len(lines) != 1 || lines[0].Text != "three" {
		t.Fatalf("IterFrom(%d) = %+v, want just 'three'", seq, lines)
	}
}
