// Package sasl implements the SASL PLAIN authentication state machine (L6),
// grounded on the reference client's SaslAuthenticator: send AUTHENTICATE
// PLAIN, answer the "+" challenge with the base64 PLAIN payload, and map
// terminal numerics to typed SaslError variants.
package sasl

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/ircerr"
	"github.com/cascade-irc/client/internal/logger"
)

// Sender is the minimal outbound capability an Authenticator needs;
// satisfied by internal/transport.Transport.
type Sender interface {
	SendLine(line string) error
}

// CapNotifier is the minimal callback surface the CAP Negotiator (L5)
// exposes to be notified of SASL flow completion.
type CapNotifier interface {
	OnSaslFlowCompleted(success bool)
}

// Options configures credentials and the per-step timeout.
type Options struct {
	Username    string
	Password    string
	StepTimeout time.Duration // default 10s
}

// Authenticator drives one SASL PLAIN attempt.
type Authenticator struct {
	sender Sender
	cap    CapNotifier
	opts   Options

	mu        sync.Mutex
	active    bool
	completed bool
	succeeded bool
	timer     *time.Timer

	onResult func(err error)
}

// New creates an Authenticator. onResult is invoked exactly once when the
// flow reaches a terminal outcome, with nil on success or a *ircerr.Error
// (Kind SaslError) on failure.
func New(sender Sender, capNotifier CapNotifier, opts Options, onResult func(err error)) *Authenticator {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	return &Authenticator{sender: sender, cap: capNotifier, opts: opts, onResult: onResult}
}

// HasCredentials reports whether a username and password were configured.
func (a *Authenticator) HasCredentials() bool {
	return a.opts.Username != "" && a.opts.Password != ""
}

// Start sends "AUTHENTICATE PLAIN" and arms the step timeout. If no
// credentials are configured, it fails immediately without sending anything
// so the CAP Negotiator can proceed with CAP END.
func (a *Authenticator) Start() {
	if !a.HasCredentials() {
		logger.Log.Warn().Msg("sasl: no credentials configured, skipping authentication")
		a.finish(ircerr.Sasl(ircerr.SaslUnsupportedMechanism, "no SASL credentials configured"))
		return
	}

	a.mu.Lock()
	a.active = true
	a.completed = false
	a.armTimer()
	a.mu.Unlock()

	if err := a.sender.SendLine("AUTHENTICATE PLAIN"); err != nil {
		a.finish(ircerr.Wrap(ircerr.KindSaslError, "failed to send AUTHENTICATE PLAIN", err))
	}
}

func (a *Authenticator) armTimer() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.opts.StepTimeout, func() {
		a.finish(ircerr.Sasl(ircerr.SaslTimeout, "SASL step timeout"))
	})
}

// OnAuthenticateChallenge handles an "AUTHENTICATE <challenge>" line.
func (a *Authenticator) OnAuthenticateChallenge(challenge string) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		logger.Log.Warn().Msg("sasl: received AUTHENTICATE challenge with no active flow, ignoring")
		return
	}
	a.armTimer()
	a.mu.Unlock()

	if challenge != "+" {
		a.finish(ircerr.Sasl(ircerr.SaslAuthenticate, fmt.Sprintf("unexpected challenge: %s", challenge)))
		return
	}

	payload := fmt.Sprintf("\x00%s\x00%s", a.opts.Username, a.opts.Password)
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	if err := a.sender.SendLine("AUTHENTICATE " + encoded); err != nil {
		a.finish(ircerr.Wrap(ircerr.KindSaslError, "failed to send AUTHENTICATE payload", err))
	}
}

// OnNumeric handles the terminal SASL numerics: 903 (success), 902/904/905/
// 906/907 (failure variants).
func (a *Authenticator) OnNumeric(numeric string, trailing string) {
	switch numeric {
	case "903":
		a.finish(nil)
	case "904":
		a.finish(ircerr.Sasl(ircerr.SaslDenied, trailing))
	case "902":
		a.finish(ircerr.Sasl(ircerr.SaslAuthenticate, trailing))
	case "905":
		a.finish(ircerr.Sasl(ircerr.SaslAuthenticate, trailing))
	case "906":
		a.finish(ircerr.Sasl(ircerr.SaslTimeout, trailing))
	case "907":
		a.finish(ircerr.Sasl(ircerr.SaslUnsupportedMechanism, trailing))
	}
}

// Abort cancels an active flow externally (e.g. the CAP Negotiator saw a
// dynamic CAP DEL for "sasl").
func (a *Authenticator) Abort(reason string) {
	a.finish(ircerr.Sasl(ircerr.SaslDenied, "aborted: "+reason))
}

func (a *Authenticator) finish(err error) {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return
	}
	a.completed = true
	a.active = false
	a.succeeded = err == nil
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()

	if a.cap != nil {
		a.cap.OnSaslFlowCompleted(err == nil)
	}
	if a.onResult != nil {
		a.onResult(err)
	}
}

// Succeeded reports whether the flow completed successfully. Only
// meaningful after completion.
func (a *Authenticator) Succeeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.succeeded
}
