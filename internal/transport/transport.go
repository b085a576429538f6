// Package transport implements the line-oriented duplex network channel
// (L4): a read loop that splits inbound bytes into IRC lines, a bounded
// write queue, and reconnect-relevant close signaling. It knows nothing
// about IRC semantics beyond line framing; the Message Codec and everything
// above it lives elsewhere.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/ircerr"
	"github.com/cascade-irc/client/internal/ircmsg"
	"github.com/cascade-irc/client/internal/logger"
)

const (
	maxLineBytes    = 8192
	defaultQueueCap = 1024
)

// Options configures a Transport.
type Options struct {
	Host           string
	Port           int
	UseTLS         bool
	VerifyCert     bool
	DialTimeout    time.Duration
	WriteQueueCap  int
}

// Transport is a single connection's duplex channel. Lines returns inbound
// lines already split on CR/LF/CRLF; the caller (Network Transport's
// consumer, typically the Connection Orchestrator) parses them with
// internal/ircmsg.
type Transport struct {
	opts Options
	bus  *events.EventBus

	conn net.Conn

	writeCh   chan string
	closeOnce sync.Once
	closed    chan struct{}

	linesCh chan string
	errCh   chan error
}

// New creates a Transport bound to opts. Connect must be called before use.
func New(opts Options, bus *events.EventBus) *Transport {
	if opts.WriteQueueCap <= 0 {
		opts.WriteQueueCap = defaultQueueCap
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	return &Transport{
		opts:    opts,
		bus:     bus,
		writeCh: make(chan string, opts.WriteQueueCap),
		closed:  make(chan struct{}),
		linesCh: make(chan string, 256),
		errCh:   make(chan error, 1),
	}
}

// Connect dials the remote host, optionally negotiating TLS before the first
// byte is exchanged, and starts the read and write pumps.
func (t *Transport) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.opts.Host, t.opts.Port)
	dialer := net.Dialer{Timeout: t.opts.DialTimeout}

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ircerr.Wrap(ircerr.KindTransportIo, "dial failed", err)
	}

	if t.opts.UseTLS {
		tlsConfig := &tls.Config{
			ServerName:         t.opts.Host,
			InsecureSkipVerify: !t.opts.VerifyCert,
		}
		if !t.opts.VerifyCert && t.bus != nil {
			t.bus.Publish(events.Event{
				Type:   "transport.tls.verification_disabled",
				Data:   map[string]interface{}{"host": t.opts.Host},
				Source: events.EventSourceIRC,
			})
		}
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			if t.opts.VerifyCert {
				return ircerr.Wrap(ircerr.KindCertificateRejected, "tls handshake failed", err)
			}
			return ircerr.Wrap(ircerr.KindTlsHandshake, "tls handshake failed", err)
		}
		t.conn = tlsConn
	} else {
		t.conn = rawConn
	}

	go t.readPump()
	go t.writePump()
	return nil
}

// Lines returns the channel of complete, terminator-stripped inbound lines.
func (t *Transport) Lines() <-chan string { return t.linesCh }

// Errors returns a channel that receives at most one error: the reason the
// read pump stopped (io error, oversize-line policy is logged, not fatal).
func (t *Transport) Errors() <-chan error { return t.errCh }

// SendLine enqueues a line for delivery. It fails with Backpressured if the
// write queue is full, and never blocks the caller.
func (t *Transport) SendLine(line string) error {
	// The 512-byte-unless-message-tags ceiling is enforced by callers that
	// know whether message-tags was negotiated; the transport itself only
	// enforces the hard 8192-byte wire limit.
	if len(line) > maxLineBytes {
		return ircerr.New(ircerr.KindMalformedLine, "line exceeds 8192 bytes")
	}
	select {
	case t.writeCh <- line:
		return nil
	default:
		return ircerr.New(ircerr.KindBackpressured, "write queue full")
	}
}

// Close closes the underlying connection and emits a terminal Disconnected
// event exactly once, regardless of which side initiated the closure or how
// many times Close is called.
func (t *Transport) Close(reason string) {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn != nil {
			t.conn.Close()
		}
		if t.bus != nil {
			t.bus.Publish(events.Event{
				Type:   "transport.disconnected",
				Data:   map[string]interface{}{"reason": reason},
				Source: events.EventSourceIRC,
			})
		}
	})
}

func (t *Transport) readPump() {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var lines []string
			lines, buf = ircmsg.SplitLines(buf)
			for _, line := range lines {
				if len(line) > maxLineBytes {
					logger.Log.Warn().Int("len", len(line)).Msg("transport: dropping oversize line")
					continue
				}
				select {
				case t.linesCh <- line:
				case <-t.closed:
					return
				}
			}
			if len(buf) > maxLineBytes {
				logger.Log.Warn().Msg("transport: unterminated buffer exceeded limit, resynchronizing")
				buf = buf[:0]
			}
		}
		if err != nil {
			select {
			case t.errCh <- ircerr.Wrap(ircerr.KindTransportIo, "read failed", err):
			default:
			}
			t.Close("read error: " + err.Error())
			return
		}
	}
}

func (t *Transport) writePump() {
	for {
		select {
		case line := <-t.writeCh:
			if _, err := t.conn.Write([]byte(line + "\r\n")); err != nil {
				select {
				case t.errCh <- ircerr.Wrap(ircerr.KindTransportIo, "write failed", err):
				default:
				}
				t.Close("write error: " + err.Error())
				return
			}
		case <-t.closed:
			return
		}
	}
}
