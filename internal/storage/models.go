package storage

import "time"

// ArchiveEntry is one line of scrollback in the queryable archive. It is
// keyed by the strings a network/dispatcher already has in hand (network
// identity, channel or query target, nick) rather than by database row IDs,
// so writing an entry never requires a lookup or insert against another
// table first.
type ArchiveEntry struct {
	ID        int64     `db:"id" json:"id"`
	Network   string    `db:"network" json:"network"` // ConnectionInfo.NetworkKey(), e.g. "irc.libera.chat:6697"
	Target    string    `db:"target" json:"target"`   // channel name, query nick, or "" for a status line
	Nick      string    `db:"nick" json:"nick"`        // sender, empty for non-speech events
	Body      string    `db:"body" json:"body"`
	Kind      string    `db:"kind" json:"kind"` // "privmsg", "notice", "action", "join", "part", "kick", "topic"
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	RawLine   string    `db:"raw_line" json:"raw_line"`
}
