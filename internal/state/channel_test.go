package state

import "testing"

func TestNamesAccumulateAndFlush(t *testing.T) {
	cs := NewChannelSet()
	prefixToMode, order := ParseIsupportPrefix("(ov)@+")
	f := cs.Features()
	f.Prefix = prefixToMode
	f.PrefixOrder = order
	cs.SetFeatures(f)

	cs.AccumulateNames("#chan", []string{"@op", "+voiced", "@+both", "plain"})
	ch, ok := cs.Channel("#chan")
	if !ok {
		t.Fatal("expected channel to exist after accumulation")
	}
	if ch.JoinComplete {
		t.Fatal("JoinComplete should be false before ENDOFNAMES")
	}

	cs.FlushNames("#chan")
	ch, _ = cs.Channel("#chan")
	if !ch.JoinComplete {
		t.Fatal("expected JoinComplete true after flush")
	}
	if !ch.Users["op"]['@'] {
		t.Errorf("expected op to have @ prefix")
	}
	if !ch.Users["voiced"]['+'] {
		t.Errorf("expected voiced to have + prefix")
	}
	both := ch.Users["both"]
	if !both['@'] || !both['+'] {
		t.Errorf("expected 'both' to retain multi-prefix, got %v", both)
	}
	if len(ch.Users["plain"]) != 0 {
		t.Errorf("expected plain to have no prefixes, got %v", ch.Users["plain"])
	}
}

func TestCanonicalizeRFC1459(t *testing.T) {
	got := Canonicalize("Test{}|^", CaseMappingRFC1459)
	want := "test[]\\~"
	if got != want {
		t.Fatalf("Canonicalize = %q, want %q", got, want)
	}
}

func TestApplyChannelModeOpAndBan(t *testing.T) {
	cs := NewChannelSet()
	prefixToMode, order := ParseIsupportPrefix("(ov)@+")
	f := cs.Features()
	f.Prefix = prefixToMode
	f.PrefixOrder = order
	f.ChanModes = [4]string{"b", "k", "l", ""}
	cs.SetFeatures(f)

	cs.AddMember("#chan", "alice", nil)
	deltas := cs.ApplyChannelMode("#chan", "+o-b", []string{"alice", "*!*@baddomain"})

	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d: %+v", len(deltas), deltas)
	}
	ch, _ := cs.Channel("#chan")
	if !ch.Users["alice"]['@'] {
		t.Errorf("expected alice to have @ prefix after +o, got %v", ch.Users["alice"])
	}
}

func TestRenameUserPreservesMembership(t *testing.T) {
	cs := NewChannelSet()
	cs.AddMember("#chan", "bob", map[rune]bool{'@': true})
	cs.RenameUser("bob", "bobby")

	ch, _ := cs.Channel("#chan")
	if _, stillThere := ch.Users["bob"]; stillThere {
		t.Fatal("old nick should no longer be a member")
	}
	if !ch.Users["bobby"]['@'] {
		t.Fatalf("renamed user should keep prefix, got %v", ch.Users["bobby"])
	}
}
