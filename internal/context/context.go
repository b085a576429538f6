// Package context implements the Context/Scrollback Model (L11): named,
// bounded-ring message buffers for the status window, channels, and queries,
// enumerated in a well-defined order (status, then channels in join order,
// then queries in first-message order).
package context

import "sync"

// Kind distinguishes the three context flavors.
type Kind string

const (
	KindStatus  Kind = "status"
	KindChannel Kind = "channel"
	KindQuery   Kind = "query"
)

// Line is one immutable rendered entry in a context's scrollback.
type Line struct {
	Seq  uint64
	Text string
}

// Context is a bounded FIFO of rendered lines plus read-position metadata.
type Context struct {
	ID   string
	Kind Kind

	mu         sync.RWMutex
	cap        int
	lines      []Line
	nextSeq    uint64
	scrollOff  int
	lastRead   uint64
}

func newContext(id string, kind Kind, capacity int) *Context {
	return &Context{ID: id, Kind: kind, cap: capacity}
}

// Append adds text to the context, evicting the oldest line if the buffer
// is at capacity. It returns the assigned sequence number.
func (c *Context) Append(text string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.nextSeq
	c.nextSeq++
	c.lines = append(c.lines, Line{Seq: seq, Text: text})
	if len(c.lines) > c.cap {
		c.lines = c.lines[len(c.lines)-c.cap:]
	}
	return seq
}

// IterFrom returns every retained line with Seq >= offset, oldest first.
func (c *Context) IterFrom(offset uint64) []Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		if l.Seq >= offset {
			out = append(out, l)
		}
	}
	return out
}

// Tail returns the most recent n lines (used for the persisted scrollback
// tail, which is bounded independently of the live ring cap).
func (c *Context) Tail(n int) []Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n >= len(c.lines) {
		return append([]Line(nil), c.lines...)
	}
	return append([]Line(nil), c.lines[len(c.lines)-n:]...)
}

// Clear empties the context's scrollback without resetting its sequence
// counter, so offsets already handed out remain unambiguous.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// MarkRead sets the last-read marker to the newest sequence number in the
// buffer.
func (c *Context) MarkRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) > 0 {
		c.lastRead = c.lines[len(c.lines)-1].Seq
	}
}

// LastRead returns the last-read marker.
func (c *Context) LastRead() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRead
}

// Manager owns every Context for one connection and enumerates them in the
// spec-mandated order: status first, then channels in join order, then
// queries in first-message order.
type Manager struct {
	mu               sync.Mutex
	defaultCap       int
	status           *Context
	channels         map[string]*Context
	channelOrder     []string
	queries          map[string]*Context
	queryOrder       []string
}

// NewManager creates a Manager with the given default scrollback cap
// (500 interactive / higher for headless operation, per §3).
func NewManager(defaultCap int) *Manager {
	m := &Manager{
		defaultCap: defaultCap,
		channels:   make(map[string]*Context),
		queries:    make(map[string]*Context),
	}
	m.status = newContext("status", KindStatus, defaultCap)
	return m
}

// Status returns the always-present status context.
func (m *Manager) Status() *Context {
	return m.status
}

// EnsureChannel returns the channel context for canonicalName, creating it
// (and recording join order) on first use.
func (m *Manager) EnsureChannel(canonicalName string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.channels[canonicalName]
	if !ok {
		ctx = newContext(canonicalName, KindChannel, m.defaultCap)
		m.channels[canonicalName] = ctx
		m.channelOrder = append(m.channelOrder, canonicalName)
	}
	return ctx
}

// EnsureQuery returns the query context for canonicalNick, creating it (and
// recording first-message order) on first use.
func (m *Manager) EnsureQuery(canonicalNick string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.queries[canonicalNick]
	if !ok {
		ctx = newContext(canonicalNick, KindQuery, m.defaultCap)
		m.queries[canonicalNick] = ctx
		m.queryOrder = append(m.queryOrder, canonicalNick)
	}
	return ctx
}

// All returns every context in the spec-mandated enumeration order.
func (m *Manager) All() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, 0, 1+len(m.channelOrder)+len(m.queryOrder))
	out = append(out, m.status)
	for _, k := range m.channelOrder {
		out = append(out, m.channels[k])
	}
	for _, k := range m.queryOrder {
		out = append(out, m.queries[k])
	}
	return out
}
