// Package orchestrator implements the Connection Orchestrator (L8): it
// sequences the Network Transport (L4), CAP Negotiator (L5), SASL
// Authenticator (L6), and Registration Handler (L7) into one connection
// attempt, owns the exclusive right to mutate ConnectionState, and drives
// reconnection with exponential backoff and full jitter. It is grounded on
// the reference client's ConnectNetwork orchestration in app.go (per-network
// connection-in-progress tracking, server-list fallback, staggered
// auto-connect), generalized from a GUI-triggered one-shot connect into a
// self-driving reconnect loop.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	capneg "github.com/cascade-irc/client/internal/cap"
	ircctx "github.com/cascade-irc/client/internal/context"
	"github.com/cascade-irc/client/internal/constants"
	"github.com/cascade-irc/client/internal/dcc"
	"github.com/cascade-irc/client/internal/dispatch"
	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/ircerr"
	"github.com/cascade-irc/client/internal/ircmsg"
	"github.com/cascade-irc/client/internal/logger"
	"github.com/cascade-irc/client/internal/registration"
	"github.com/cascade-irc/client/internal/sasl"
	"github.com/cascade-irc/client/internal/state"
	"github.com/cascade-irc/client/internal/transport"
)

// Client-lifecycle event types, in addition to the message/user/channel
// events the Protocol Dispatcher emits directly.
const (
	EventClientConnecting   = "client.connecting"
	EventClientRegistered   = "client.registered"
	EventClientReady        = "client.ready"
	EventClientDisconnected = "client.disconnected"
	EventClientReconnecting = "client.reconnecting"
	EventClientGaveUp       = "client.gave_up"
)

// Dialer abstracts transport construction so tests can substitute an
// in-memory pair instead of a real TCP dial.
type Dialer interface {
	SendLine(line string) error
	Connect(ctx context.Context) error
	Lines() <-chan string
	Errors() <-chan error
	Close(reason string)
}

// TimeoutOverrides lets a per-network profile tighten or loosen the
// handshake timeouts that would otherwise come from internal/constants,
// mirroring the reference client's per-section config_defs.py tunables.
type TimeoutOverrides struct {
	CapOverall   time.Duration
	CapStep      time.Duration
	Sasl         time.Duration
	Registration time.Duration
}

func (t TimeoutOverrides) capOverall() time.Duration {
	if t.CapOverall > 0 {
		return t.CapOverall
	}
	return constants.CapNegotiationOverallTimeout
}

func (t TimeoutOverrides) capStep() time.Duration {
	if t.CapStep > 0 {
		return t.CapStep
	}
	return constants.CapNegotiationStepTimeout
}

func (t TimeoutOverrides) sasl() time.Duration {
	if t.Sasl > 0 {
		return t.Sasl
	}
	return constants.SaslStepTimeout
}

func (t TimeoutOverrides) registration() time.Duration {
	if t.Registration > 0 {
		return t.Registration
	}
	return constants.RegistrationTimeout
}

// TransportFactory builds the Dialer for one connection attempt.
type TransportFactory func(info state.ConnectionInfo, bus *events.EventBus) Dialer

// DefaultTransportFactory builds a real internal/transport.Transport.
func DefaultTransportFactory(info state.ConnectionInfo, bus *events.EventBus) Dialer {
	return transport.New(transport.Options{
		Host:       info.Host,
		Port:       info.Port,
		UseTLS:     info.TLS,
		VerifyCert: info.VerifyCert,
	}, bus)
}

// Options configures one network's Connection.
type Options struct {
	Info             state.ConnectionInfo
	DesiredCaps      []string
	Bus              *events.EventBus
	Store            *state.Store
	Channels         *state.ChannelSet
	Contexts         *ircctx.Manager
	TransportFactory TransportFactory

	// Dcc, if non-nil, enables the DCC subsystem for this network: a fresh
	// dcc.Manager is created per connection attempt, wired into the
	// Protocol Dispatcher as its DccRouter, and reachable via Connection.Dcc.
	Dcc *dcc.Options

	// Archiver, if non-nil, is wired into the Protocol Dispatcher so every
	// archived event (messages, joins, parts, kicks, topic changes) for this
	// network is persisted to the queryable scrollback archive, keyed by
	// Info.NetworkKey().
	Archiver dispatch.Archiver

	// Timeouts overrides the per-phase timeout constants for this network.
	// Zero fields fall back to the internal/constants defaults.
	Timeouts TimeoutOverrides

	// NonRetryableStop, if set, is called when a connection attempt fails
	// with a non-retryable error (config error, certificate rejection,
	// SASL denial) so the caller can surface it without further reconnects.
	NonRetryableStop func(err error)
}

// Connection owns one network's connect/negotiate/register/reconnect
// lifecycle.
type Connection struct {
	opts Options

	stateKey string

	mu      sync.Mutex
	current state.ConnectionState
	stopped bool
	stopCh  chan struct{}
	dccMgr  *dcc.Manager
}

// Dcc returns the current attempt's DCC subsystem, or nil if Options.Dcc
// was unset or no attempt has connected yet.
func (c *Connection) Dcc() *dcc.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dccMgr
}

// dccSenderAdapter lets a dcc.Manager address CTCP payloads to a peer
// through the same connection the rest of the attempt uses, without the
// DCC subsystem needing to know about IRC message framing beyond CTCP's
// own \x01 delimiters.
type dccSenderAdapter struct {
	dialer Dialer
}

func (a dccSenderAdapter) SendCTCP(peer, payload string) error {
	return a.dialer.SendLine(fmt.Sprintf("PRIVMSG %s :\x01%s\x01", peer, payload))
}

// New creates a Connection for the given network. Call Run to start the
// connect-and-reconnect loop; it returns once the context is canceled or a
// non-retryable failure occurs.
func New(opts Options) *Connection {
	if opts.TransportFactory == nil {
		opts.TransportFactory = DefaultTransportFactory
	}
	return &Connection{
		opts:     opts,
		stateKey: "connection." + opts.Info.NetworkKey() + ".state",
		current:  state.Disconnected,
		stopCh:   make(chan struct{}),
	}
}

// Stop signals the reconnect loop to stop retrying and closes the active
// transport, if any.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()
}

func (c *Connection) isStopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Connection) setState(s state.ConnectionState) {
	c.mu.Lock()
	from := c.current
	if !state.CanTransition(from, s) {
		logger.Log.Warn().Str("from", string(from)).Str("to", string(s)).Msg("orchestrator: rejected illegal connection state transition")
		c.mu.Unlock()
		return
	}
	c.current = s
	c.mu.Unlock()

	if c.opts.Store != nil {
		c.opts.Store.Set(c.stateKey, s)
	}
	c.emit(events.EventMetadataUpdated, map[string]interface{}{"key": c.stateKey, "state": string(s)})
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() state.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Connection) emit(eventType string, data map[string]interface{}) {
	if c.opts.Bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["network"] = c.opts.Info.NetworkKey()
	c.opts.Bus.Publish(events.Event{Type: eventType, Data: data, Timestamp: time.Now(), Source: events.EventSourceIRC})
}

// Run drives connect attempts with exponential backoff and full jitter until
// ctx is canceled, Stop is called, or a non-retryable error terminates the
// loop.
func (c *Connection) Run(ctx context.Context) {
	delay := constants.ReconnectInitialDelay
	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}

		err := c.runAttempt(ctx)
		if err == nil {
			// Clean, intentional close (Stop called or ctx canceled).
			return
		}

		if !ircerr.Retryable(err) {
			c.setState(state.Error)
			c.emit(EventClientGaveUp, map[string]interface{}{"error": err.Error()})
			if c.opts.NonRetryableStop != nil {
				c.opts.NonRetryableStop(err)
			}
			return
		}

		c.setState(state.Disconnected)
		c.emit(EventClientReconnecting, map[string]interface{}{"error": err.Error(), "delay_ms": delay.Milliseconds()})

		select {
		case <-time.After(jitter(delay)):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}

		delay = nextDelay(delay)
	}
}

func nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * constants.ReconnectBackoffFactor)
	if next > constants.ReconnectMaxDelay {
		next = constants.ReconnectMaxDelay
	}
	return next
}

// jitter applies full jitter: a uniformly random duration in [0, delay).
func jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// runAttempt performs one full connect-negotiate-register cycle and then
// blocks until the connection ends, returning nil for an intentional close
// and a non-nil error otherwise (used by Run to decide on a retry).
func (c *Connection) runAttempt(ctx context.Context) error {
	c.setState(state.Connecting)
	c.emit(EventClientConnecting, nil)

	dialer := c.opts.TransportFactory(c.opts.Info, c.opts.Bus)
	if err := dialer.Connect(ctx); err != nil {
		return err
	}

	doneCh := make(chan error, 1)
	var once sync.Once
	finish := func(err error) { once.Do(func() { doneCh <- err }) }

	disp := dispatch.New(dialer, c.opts.Channels, c.opts.Contexts, c.opts.Bus, c.opts.Info.Nick)

	if c.opts.Archiver != nil {
		disp.SetArchiver(c.opts.Archiver, c.opts.Info.NetworkKey())
	}

	if c.opts.Dcc != nil {
		mgr := dcc.New(*c.opts.Dcc, dccSenderAdapter{dialer}, c.opts.Bus)
		c.mu.Lock()
		c.dccMgr = mgr
		c.mu.Unlock()
		disp.SetDccRouter(mgr)
		defer func() {
			mgr.Stop()
			c.mu.Lock()
			c.dccMgr = nil
			c.mu.Unlock()
		}()
	}

	var regHandler *registration.Handler
	regHandler = registration.New(dialer, registration.Options{
		Nick:     c.opts.Info.Nick,
		Username: c.opts.Info.Username,
		RealName: c.opts.Info.RealName,
		Timeout:  c.opts.Timeouts.registration(),
	}, func(confirmedNick string, err error) {
		if err != nil {
			finish(err)
			return
		}
		c.setState(state.Registered)
		disp.SetSelfNick(confirmedNick)
		c.emit(EventClientRegistered, map[string]interface{}{"nick": confirmedNick})

		go c.autoJoin(dialer, confirmedNick)

		c.setState(state.Ready)
		c.emit(EventClientReady, map[string]interface{}{"nick": confirmedNick})
	})

	var saslAuth *sasl.Authenticator
	var capNeg *capneg.Negotiator
	capNeg = capneg.New(dialer, capneg.Options{
		Desired:        c.opts.DesiredCaps,
		OverallTimeout: c.opts.Timeouts.capOverall(),
		StepTimeout:    c.opts.Timeouts.capStep(),
		HasSaslCreds:   c.opts.Info.SaslUsername != "" && c.opts.Info.SaslPassword != "",
	}, func(enabled []string, err error) {
		if err != nil {
			finish(err)
			return
		}
		c.setState(state.Registering)
		if err := regHandler.Start(); err != nil {
			finish(err)
		}
	}, func() {
		c.setState(state.Authenticating)
		saslAuth.Start()
	}, func() {
		logger.Log.Warn().Msg("orchestrator: sasl capability withdrawn mid-negotiation")
	})

	saslAuth = sasl.New(dialer, capNeg, sasl.Options{
		Username:    c.opts.Info.SaslUsername,
		Password:    c.opts.Info.SaslPassword,
		StepTimeout: c.opts.Timeouts.sasl(),
	}, func(err error) {
		if err != nil {
			logger.Log.Warn().Err(err).Msg("orchestrator: sasl authentication failed")
			if !ircerr.Retryable(err) {
				finish(err)
			}
		}
	})

	go c.readLoop(ctx, dialer, disp, capNeg, saslAuth, regHandler, finish)

	c.setState(state.CapNegotiating)
	if err := capNeg.Start(); err != nil {
		finish(err)
	}

	select {
	case err := <-doneCh:
		dialer.Close("attempt finished")
		return err
	case <-c.stopCh:
		dialer.Close("stopped")
		return nil
	case <-ctx.Done():
		dialer.Close("context canceled")
		return nil
	}
}

func (c *Connection) autoJoin(dialer Dialer, confirmedNick string) {
	select {
	case <-time.After(constants.AutoJoinDelay):
	case <-c.stopCh:
		return
	}
	for _, channel := range c.opts.Info.AutoJoin {
		if err := dialer.SendLine("JOIN " + channel); err != nil {
			logger.Log.Warn().Err(err).Str("channel", channel).Msg("orchestrator: auto-join failed")
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, dialer Dialer, disp *dispatch.Dispatcher, capNeg *capneg.Negotiator, saslAuth *sasl.Authenticator, reg *registration.Handler, finish func(error)) {
	for {
		select {
		case line, ok := <-dialer.Lines():
			if !ok {
				return
			}
			msg, err := ircmsg.Parse(line)
			if err != nil {
				logger.Log.Warn().Str("line", line).Msg("orchestrator: dropping malformed line")
				continue
			}
			c.route(msg, disp, capNeg, saslAuth, reg)
		case err, ok := <-dialer.Errors():
			if ok {
				finish(err)
			}
			return
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) route(msg ircmsg.Message, disp *dispatch.Dispatcher, capNeg *capneg.Negotiator, saslAuth *sasl.Authenticator, reg *registration.Handler) {
	switch msg.Verb {
	case "PING":
		disp.Dispatch(msg)
		return
	case "CAP":
		routeCap(msg, capNeg)
		return
	case "AUTHENTICATE":
		if len(msg.Params) > 0 {
			saslAuth.OnAuthenticateChallenge(msg.Params[0])
		}
		return
	case "001":
		if len(msg.Params) > 0 {
			reg.OnWelcome(msg.Params[0])
		}
		disp.Dispatch(msg)
		return
	case "433", "436":
		if err := reg.OnNickInUse(); err != nil {
			logger.Log.Warn().Err(err).Msg("orchestrator: failed to resend NICK after collision")
		}
		return
	case "900", "901", "902", "903", "904", "905", "906", "907":
		saslAuth.OnNumeric(msg.Verb, msg.Trailing())
		return
	}
	disp.Dispatch(msg)
}

// routeCap parses one "CAP <target> <SUBCOMMAND> [*] :<caps>" line and
// forwards it to the appropriate Negotiator callback.
func routeCap(msg ircmsg.Message, capNeg *capneg.Negotiator) {
	if len(msg.Params) < 2 {
		return
	}
	subcommand := strings.ToUpper(msg.Params[1])
	more := false
	capsField := ""
	rest := msg.Params[2:]
	if len(rest) > 0 && rest[0] == "*" && len(rest) > 1 {
		more = true
		capsField = rest[len(rest)-1]
	} else if len(rest) > 0 {
		capsField = rest[len(rest)-1]
	}
	caps := strings.Fields(capsField)

	var err error
	switch subcommand {
	case "LS":
		err = capNeg.OnCapLs(caps, more)
	case "ACK":
		err = capNeg.OnCapAck(caps)
	case "NAK":
		err = capNeg.OnCapNak(caps)
	case "NEW":
		err = capNeg.OnCapNew(caps)
	case "DEL":
		capNeg.OnCapDel(caps)
	}
	if err != nil {
		logger.Log.Warn().Err(err).Str("subcommand", subcommand).Msg("orchestrator: cap negotiator send failed")
	}
}
