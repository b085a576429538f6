package state

import "sync"

// User is a single known IRC user, as seen from channel membership or a
// direct WHOIS/NICK/QUIT observation.
type User struct {
	Nick    string
	Ident   string
	Host    string
	Account string
	Away    bool
}

// ServerFeatures holds the RPL_ISUPPORT (005)-derived tokens that govern how
// mode strings, channel prefixes, and channel-name recognition are parsed.
type ServerFeatures struct {
	CaseMapping CaseMapping
	ChanTypes   string          // e.g. "#&"
	Prefix      map[rune]rune   // prefix char ('@','+') -> mode letter ('o','v')
	PrefixOrder []rune          // prefix chars, highest privilege first, as advertised
	ChanModes   [4]string       // type A,B,C,D per ISUPPORT CHANMODES
}

// DefaultServerFeatures returns the RFC 1459 defaults assumed before
// RPL_ISUPPORT is received.
func DefaultServerFeatures() ServerFeatures {
	return ServerFeatures{
		CaseMapping: CaseMappingRFC1459,
		ChanTypes:   "#&",
		Prefix:      map[rune]rune{'@': 'o', '+': 'v'},
		PrefixOrder: []rune{'@', '+'},
		ChanModes:   [4]string{"", "", "", ""},
	}
}

// Channel is one joined or known channel and its live membership.
type Channel struct {
	Name           string // canonical (lowercased) form
	DisplayName    string // as advertised on the wire
	Topic          string
	TopicSetBy     string
	TopicSetAt     int64
	Modes          map[byte]string // mode letter -> parameter, "" if none
	Users          map[string]map[rune]bool // canonical nick -> set of prefix chars
	JoinComplete   bool
	pendingNames   map[string]map[rune]bool
}

func newChannel(canonical, display string) *Channel {
	return &Channel{
		Name:         canonical,
		DisplayName:  display,
		Modes:        make(map[byte]string),
		Users:        make(map[string]map[rune]bool),
		pendingNames: make(map[string]map[rune]bool),
	}
}

// ChannelSet owns every known channel, keyed by canonical name, and the
// user registry keyed by canonical nick. It is meant to live behind the
// State Store's guard; the Store holds one ChannelSet under the "channels"
// key rather than exposing it as loose top-level keys, keeping the
// cross-links (channel <-> user) internal instead of cyclic references
// through the store.
type ChannelSet struct {
	mu       sync.RWMutex
	features ServerFeatures
	channels map[string]*Channel
	users    map[string]*User
	joinOrder []string
}

// NewChannelSet creates an empty set using RFC 1459 defaults until
// RPL_ISUPPORT updates them.
func NewChannelSet() *ChannelSet {
	return &ChannelSet{
		features: DefaultServerFeatures(),
		channels: make(map[string]*Channel),
		users:    make(map[string]*User),
	}
}

// SetFeatures updates the ISUPPORT-derived parsing rules.
func (cs *ChannelSet) SetFeatures(f ServerFeatures) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.features = f
}

// Features returns the current ISUPPORT-derived parsing rules.
func (cs *ChannelSet) Features() ServerFeatures {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.features
}

func (cs *ChannelSet) canon(name string) string {
	return Canonicalize(name, cs.features.CaseMapping)
}

// EnsureChannel returns the Channel for name, creating it (and recording
// join order) if it doesn't exist.
func (cs *ChannelSet) EnsureChannel(name string) *Channel {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(name)
	ch, ok := cs.channels[key]
	if !ok {
		ch = newChannel(key, name)
		cs.channels[key] = ch
		cs.joinOrder = append(cs.joinOrder, key)
	}
	return ch
}

// Channel returns the channel for name, if known.
func (cs *ChannelSet) Channel(name string) (*Channel, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ch, ok := cs.channels[cs.canon(name)]
	return ch, ok
}

// RemoveChannel forgets a channel entirely (used only for administrative
// cleanup; ordinary PART/KICK just marks it inactive, per §4.9).
func (cs *ChannelSet) RemoveChannel(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(name)
	delete(cs.channels, key)
	for i, k := range cs.joinOrder {
		if k == key {
			cs.joinOrder = append(cs.joinOrder[:i], cs.joinOrder[i+1:]...)
			break
		}
	}
}

// JoinOrderedChannels returns known channels in join order.
func (cs *ChannelSet) JoinOrderedChannels() []*Channel {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*Channel, 0, len(cs.joinOrder))
	for _, k := range cs.joinOrder {
		out = append(out, cs.channels[k])
	}
	return out
}

// UpsertUser records or updates a known user's ident/host by nick.
func (cs *ChannelSet) UpsertUser(nick, ident, host string) *User {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(nick)
	u, ok := cs.users[key]
	if !ok {
		u = &User{Nick: nick}
		cs.users[key] = u
	}
	u.Nick = nick
	if ident != "" {
		u.Ident = ident
	}
	if host != "" {
		u.Host = host
	}
	return u
}

// User returns the known user for nick.
func (cs *ChannelSet) User(nick string) (*User, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	u, ok := cs.users[cs.canon(nick)]
	return u, ok
}

// RenameUser moves a user record from oldNick to newNick across the
// registry and every channel's membership set, preserving prefixes.
func (cs *ChannelSet) RenameUser(oldNick, newNick string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	oldKey := cs.canon(oldNick)
	newKey := cs.canon(newNick)

	if u, ok := cs.users[oldKey]; ok {
		u.Nick = newNick
		delete(cs.users, oldKey)
		cs.users[newKey] = u
	}

	for _, ch := range cs.channels {
		if prefixes, ok := ch.Users[oldKey]; ok {
			delete(ch.Users, oldKey)
			ch.Users[newKey] = prefixes
		}
	}
}

// RemoveUserEverywhere removes nick from every channel's membership (used
// on QUIT).
func (cs *ChannelSet) RemoveUserEverywhere(nick string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(nick)
	for _, ch := range cs.channels {
		delete(ch.Users, key)
	}
	delete(cs.users, key)
}

// AddMember adds nick to channel's membership with the given prefix set
// (may be empty).
func (cs *ChannelSet) AddMember(channelName, nick string, prefixes map[rune]bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(channelName)
	ch, ok := cs.channels[key]
	if !ok {
		ch = newChannel(key, channelName)
		cs.channels[key] = ch
		cs.joinOrder = append(cs.joinOrder, key)
	}
	if prefixes == nil {
		prefixes = make(map[rune]bool)
	}
	ch.Users[cs.canon(nick)] = prefixes
}

// RemoveMember removes nick from a single channel's membership (PART/KICK).
func (cs *ChannelSet) RemoveMember(channelName, nick string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ch, ok := cs.channels[cs.canon(channelName)]; ok {
		delete(ch.Users, cs.canon(nick))
	}
}
