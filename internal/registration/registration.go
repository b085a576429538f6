// Package registration implements the NICK/USER registration handshake
// (L7): sends NICK then USER, retries on nick collision (433/436) up to
// three times by appending "_", and detects terminal success via RPL_WELCOME
// (001).
package registration

import (
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/ircerr"
)

const maxNickRetries = 3

// Sender is the minimal outbound capability a Handler needs; satisfied by
// internal/transport.Transport.
type Sender interface {
	SendLine(line string) error
}

// Options configures the registration attempt.
type Options struct {
	Nick     string
	Username string
	RealName string
	Timeout  time.Duration // default 30s
}

// Handler drives one registration attempt.
type Handler struct {
	sender Sender
	opts   Options

	mu        sync.Mutex
	nick      string
	retries   int
	completed bool
	timer     *time.Timer

	onResult func(confirmedNick string, err error)
}

// New creates a Handler. onResult fires exactly once: on success with the
// server-confirmed nick (which may differ from the requested one after
// collision retries), or on failure/timeout with a *ircerr.Error.
func New(sender Sender, opts Options, onResult func(confirmedNick string, err error)) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Handler{sender: sender, opts: opts, nick: opts.Nick, onResult: onResult}
}

// Start sends NICK then USER and arms the registration timeout.
func (h *Handler) Start() error {
	h.mu.Lock()
	h.timer = time.AfterFunc(h.opts.Timeout, h.onTimeout)
	h.mu.Unlock()

	if err := h.sender.SendLine("NICK " + h.nick); err != nil {
		return err
	}
	return h.sender.SendLine("USER " + h.opts.Username + " 0 * :" + h.opts.RealName)
}

func (h *Handler) onTimeout() {
	h.finish("", ircerr.New(ircerr.KindRegistrationTimeout, "registration did not complete in time"))
}

// OnNickInUse handles 433 (ERR_NICKNAMEINUSE) or 436 (ERR_NICKCOLLISION)
// received before welcome. It retries with an appended "_" up to
// maxNickRetries times, then fails with NickUnavailable.
func (h *Handler) OnNickInUse() error {
	h.mu.Lock()
	if h.completed {
		h.mu.Unlock()
		return nil
	}
	if h.retries >= maxNickRetries {
		h.mu.Unlock()
		h.finish("", ircerr.New(ircerr.KindNickUnavailable, "exhausted nick collision retries"))
		return nil
	}
	h.retries++
	h.nick += "_"
	nick := h.nick
	h.mu.Unlock()

	return h.sender.SendLine("NICK " + nick)
}

// OnWelcome handles RPL_WELCOME (001), the terminal success signal.
// confirmedNick is the nick the server actually echoed in the welcome line,
// which should match h.nick but is taken verbatim from the server.
func (h *Handler) OnWelcome(confirmedNick string) {
	h.finish(confirmedNick, nil)
}

func (h *Handler) finish(confirmedNick string, err error) {
	h.mu.Lock()
	if h.completed {
		h.mu.Unlock()
		return
	}
	h.completed = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	if h.onResult != nil {
		h.onResult(confirmedNick, err)
	}
}

// CurrentNick returns the nick currently being attempted (post-retry).
func (h *Handler) CurrentNick() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nick
}
