// Package cap implements the IRCv3 capability negotiation state machine
// (L5): CAP LS / REQ / ACK / NAK / NEW / DEL / END, with overall and
// per-step timeouts. Behavior is grounded on the reference client's
// CapNegotiator (a single-threaded event-driven state machine keyed off
// server responses), re-expressed here as a mutex-guarded Go type driven by
// explicit On* calls from the Protocol Dispatcher.
package cap

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/ircerr"
	"github.com/cascade-irc/client/internal/logger"
)

// Phase is one step of the negotiation state machine.
type Phase string

const (
	PhaseIdle       Phase = "Idle"
	PhaseListing    Phase = "Listing"
	PhaseRequesting Phase = "Requesting"
	PhaseAcking     Phase = "Acking"
	PhaseSaslAwait  Phase = "SaslAwait"
	PhaseDone       Phase = "Done"
)

// Sender is the minimal outbound capability a Negotiator needs; satisfied by
// internal/transport.Transport.
type Sender interface {
	SendLine(line string) error
}

// Options configures timeouts and the desired capability set.
type Options struct {
	Desired        []string
	OverallTimeout time.Duration // default 15s
	StepTimeout    time.Duration // default 7s
	HasSaslCreds   bool
}

// Negotiator drives one connection attempt's CAP handshake.
type Negotiator struct {
	sender Sender
	opts   Options

	mu        sync.Mutex
	phase     Phase
	requested map[string]bool
	enabled   map[string]bool

	overallTimer *time.Timer
	stepTimer    *time.Timer

	saslCompleted bool
	saslEndPending bool

	onDone      func(enabled []string, err error)
	onStartSasl func()
	onSaslAbort func()
	doneFired   bool
}

// New creates a Negotiator. onDone is invoked exactly once when negotiation
// finishes (successfully, on timeout, or because SASL completion unblocked a
// deferred CAP END). onStartSasl is invoked when "sasl" is ACKed and the
// caller should begin SASL authentication; onSaslAbort is invoked if a
// dynamic CAP DEL removes "sasl" while a flow may be active.
func New(sender Sender, opts Options, onDone func(enabled []string, err error), onStartSasl, onSaslAbort func()) *Negotiator {
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 15 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 7 * time.Second
	}
	return &Negotiator{
		sender:      sender,
		opts:        opts,
		phase:       PhaseIdle,
		requested:   make(map[string]bool),
		enabled:     make(map[string]bool),
		onDone:      onDone,
		onStartSasl: onStartSasl,
		onSaslAbort: onSaslAbort,
	}
}

// Start sends CAP LS 302 and arms the overall timeout.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	n.phase = PhaseListing
	n.overallTimer = time.AfterFunc(n.opts.OverallTimeout, n.onOverallTimeout)
	n.armStepTimer()
	n.mu.Unlock()
	return n.sender.SendLine("CAP LS 302")
}

func (n *Negotiator) armStepTimer() {
	if n.stepTimer != nil {
		n.stepTimer.Stop()
	}
	n.stepTimer = time.AfterFunc(n.opts.StepTimeout, n.onStepTimeout)
}

func (n *Negotiator) onOverallTimeout() {
	n.finish(nil, ircerr.New(ircerr.KindCapTimeout, "overall CAP negotiation timeout"))
}

func (n *Negotiator) onStepTimeout() {
	n.finish(nil, ircerr.New(ircerr.KindCapTimeout, "CAP negotiation step timeout"))
}

func (n *Negotiator) finish(enabled []string, err error) {
	n.mu.Lock()
	if n.doneFired {
		n.mu.Unlock()
		return
	}
	n.doneFired = true
	n.phase = PhaseDone
	if n.overallTimer != nil {
		n.overallTimer.Stop()
	}
	if n.stepTimer != nil {
		n.stepTimer.Stop()
	}
	if enabled == nil {
		enabled = n.enabledList()
	}
	n.mu.Unlock()

	if n.onDone != nil {
		n.onDone(enabled, err)
	}
}

func (n *Negotiator) enabledList() []string {
	out := make([]string, 0, len(n.enabled))
	for k := range n.enabled {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OnCapLs handles a "CAP * LS" line (possibly multi-line via "LS *"
// continuation, indicated by more=true). available lists the tokens on this
// line (capability names, ignoring any "=value" suffix for intersection
// purposes).
func (n *Negotiator) OnCapLs(available []string, more bool) error {
	n.mu.Lock()
	if more {
		// Multi-line LS: caller accumulates and calls us again with more=false
		// on the final line. We just re-arm the step timer here.
		n.armStepTimer()
		n.mu.Unlock()
		return nil
	}

	desired := make(map[string]bool, len(n.opts.Desired))
	for _, d := range n.opts.Desired {
		desired[strings.ToLower(d)] = true
	}
	var toRequest []string
	for _, cap := range available {
		name := strings.ToLower(strings.SplitN(cap, "=", 2)[0])
		if !desired[name] {
			continue
		}
		if name == "sasl" && !n.opts.HasSaslCreds {
			continue
		}
		toRequest = append(toRequest, name)
		n.requested[name] = true
	}
	n.mu.Unlock()

	if len(toRequest) == 0 {
		return n.sendCapEnd()
	}

	n.mu.Lock()
	n.phase = PhaseRequesting
	n.armStepTimer()
	n.mu.Unlock()
	sort.Strings(toRequest)
	return n.sender.SendLine("CAP REQ :" + strings.Join(toRequest, " "))
}

// OnCapAck handles a "CAP * ACK :<caps>" line.
func (n *Negotiator) OnCapAck(acked []string) error {
	n.mu.Lock()
	n.phase = PhaseAcking
	startSasl := false
	for _, c := range acked {
		name := strings.ToLower(c)
		n.enabled[name] = true
		delete(n.requested, name)
		if name == "sasl" {
			startSasl = true
		}
	}
	remaining := len(n.requested)
	n.mu.Unlock()

	if startSasl {
		n.mu.Lock()
		n.phase = PhaseSaslAwait
		n.saslEndPending = true
		n.mu.Unlock()
		if n.onStartSasl != nil {
			n.onStartSasl()
		}
		return nil
	}

	if remaining == 0 {
		return n.sendCapEnd()
	}
	n.mu.Lock()
	n.armStepTimer()
	n.mu.Unlock()
	return nil
}

// OnCapNak handles a "CAP * NAK :<caps>" line.
func (n *Negotiator) OnCapNak(naked []string) error {
	n.mu.Lock()
	saslNaked := false
	for _, c := range naked {
		name := strings.ToLower(c)
		delete(n.requested, name)
		if name == "sasl" {
			saslNaked = true
		}
	}
	remaining := len(n.requested)
	n.mu.Unlock()

	if saslNaked && n.onSaslAbort != nil {
		n.onSaslAbort()
	}

	if remaining == 0 && !n.awaitingSasl() {
		return n.sendCapEnd()
	}
	return nil
}

func (n *Negotiator) awaitingSasl() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase == PhaseSaslAwait
}

// OnCapNew handles dynamic "CAP * NEW :<caps>" after initial negotiation.
func (n *Negotiator) OnCapNew(added []string) error {
	n.mu.Lock()
	desired := make(map[string]bool, len(n.opts.Desired))
	for _, d := range n.opts.Desired {
		desired[strings.ToLower(d)] = true
	}
	var toRequest []string
	for _, c := range added {
		name := strings.ToLower(c)
		if desired[name] && !n.enabled[name] {
			toRequest = append(toRequest, name)
			n.requested[name] = true
		}
	}
	n.mu.Unlock()
	if len(toRequest) == 0 {
		return nil
	}
	sort.Strings(toRequest)
	return n.sender.SendLine("CAP REQ :" + strings.Join(toRequest, " "))
}

// OnCapDel handles dynamic "CAP * DEL :<caps>", aborting any active SASL
// flow if "sasl" is removed.
func (n *Negotiator) OnCapDel(removed []string) {
	n.mu.Lock()
	saslDeleted := false
	for _, c := range removed {
		name := strings.ToLower(c)
		delete(n.enabled, name)
		if name == "sasl" {
			saslDeleted = true
		}
	}
	n.mu.Unlock()
	if saslDeleted && n.onSaslAbort != nil {
		n.onSaslAbort()
	}
}

// OnSaslFlowCompleted is called by the SASL Authenticator (L6) when its flow
// reaches a terminal outcome. If CAP END was being held for SASL, it is sent
// now.
func (n *Negotiator) OnSaslFlowCompleted(success bool) {
	n.mu.Lock()
	pending := n.saslEndPending
	n.saslEndPending = false
	n.saslCompleted = true
	n.mu.Unlock()

	logger.Log.Debug().Bool("success", success).Msg("cap: sasl flow completed")
	if pending {
		if err := n.sendCapEnd(); err != nil {
			logger.Log.Error().Err(err).Msg("cap: failed to send deferred CAP END")
		}
	}
}

func (n *Negotiator) sendCapEnd() error {
	if err := n.sender.SendLine("CAP END"); err != nil {
		n.finish(nil, err)
		return err
	}
	n.finish(nil, nil)
	return nil
}

// Phase returns the negotiator's current phase.
func (n *Negotiator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// IsEnabled reports whether capability name was ACKed.
func (n *Negotiator) IsEnabled(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled[strings.ToLower(name)]
}

// Abort forcibly ends negotiation (used by the orchestrator on cancellation).
func (n *Negotiator) Abort(reason string) {
	n.finish(nil, ircerr.New(ircerr.KindCapTimeout, reason))
}
