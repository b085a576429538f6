package dcc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascade-irc/client/internal/constants"
	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/ircerr"
	"github.com/cascade-irc/client/internal/logger"
)

// Sender is the minimal outbound surface the DCC subsystem needs from the
// connection it rides on: a CTCP payload addressed to one peer.
type Sender interface {
	SendCTCP(peer, payload string) error
}

// Options configures a Manager. Grounded on original_source/dcc_manager.py's
// configuration surface, with PortRangeStart/End and bandwidth pacing added
// fresh (the original always bound to port 0 and had no pacing).
type Options struct {
	DownloadDir        string
	BlockedExtensions  []string
	MaxFileSize        int64
	PublicIP           string // advertised in active SEND offers
	PortRangeStart     int
	PortRangeEnd       int
	SendBandwidthLimit int64 // bytes/sec, <= 0 unlimited
	RecvBandwidthLimit int64
	PassiveTokenTimeout time.Duration
	CleanupInterval     time.Duration
	TransferMaxAge      time.Duration // how long a terminal transfer record is kept
}

func (o Options) withDefaults() Options {
	if o.PassiveTokenTimeout <= 0 {
		o.PassiveTokenTimeout = constants.DccPassiveTokenTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = constants.DccCleanupInterval
	}
	if o.TransferMaxAge <= 0 {
		o.TransferMaxAge = 24 * time.Hour
	}
	return o
}

type passiveOffer struct {
	transfer  *Transfer
	localPath string
	expiresAt time.Time
}

// Manager owns every in-flight DCC transfer for a connection: Active and
// Passive SEND/GET, the listening sockets they require, and the background
// sweep that expires stale passive offers and prunes old terminal
// transfers. Grounded on original_source/dcc_manager.py's transfer
// bookkeeping, restructured around goroutines and channels instead of a
// single-threaded event loop.
type Manager struct {
	opts   Options
	sender Sender
	bus    *events.EventBus

	mu            sync.Mutex
	transfers     map[string]*Transfer
	passiveOffers map[string]*passiveOffer // keyed by token

	stopCh chan struct{}
}

// New creates a Manager bound to one connection's outbound Sender.
func New(opts Options, sender Sender, bus *events.EventBus) *Manager {
	m := &Manager{
		opts:          opts.withDefaults(),
		sender:        sender,
		bus:           bus,
		transfers:     make(map[string]*Transfer),
		passiveOffers: make(map[string]*passiveOffer),
		stopCh:        make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Stop ends the background sweeper. In-flight transfers are left to finish
// or fail on their own.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) newID() string {
	return "dcc-" + uuid.NewString()
}

func (m *Manager) register(t *Transfer) {
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()
}

// Get returns a transfer's current snapshot by ID.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	t, ok := m.transfers[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// List returns a snapshot of every known transfer.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t.snapshot())
	}
	return out
}

// Cancel aborts a transfer by ID, if it exists.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	t, ok := m.transfers[id]
	m.mu.Unlock()
	if ok {
		t.Cancel()
	}
}

func (m *Manager) emit(eventType string, t *Transfer, extra map[string]interface{}) {
	if m.bus == nil {
		return
	}
	data := map[string]interface{}{
		"id":        t.ID,
		"peer":      t.Peer,
		"filename":  t.Filename,
		"direction": string(t.Direction),
	}
	for k, v := range extra {
		data[k] = v
	}
	m.bus.Publish(events.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    events.EventSourceDCC,
	})
}

// listenInRange binds a TCP listener to the first free port in
// [PortRangeStart, PortRangeEnd], or to an OS-assigned port if no range is
// configured. The original implementation always bound to port 0.
func (m *Manager) listenInRange() (net.Listener, error) {
	if m.opts.PortRangeStart <= 0 || m.opts.PortRangeEnd < m.opts.PortRangeStart {
		return net.Listen("tcp", ":0")
	}
	var lastErr error
	for port := m.opts.PortRangeStart; port <= m.opts.PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, ircerr.Wrap(ircerr.KindDccProtocol, "no free port in configured DCC port range", lastErr)
}

func listenerPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

func newToken() string {
	return uuid.NewString()
}

// OfferSend begins an Active DCC SEND: it stats localPath, binds a listener
// in the configured port range, advertises it to peer, and in the
// background waits for the peer to connect before streaming the file.
func (m *Manager) OfferSend(peer, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindDccProtocol, "cannot stat file to send", err)
	}
	if m.opts.PublicIP == "" {
		return "", ircerr.New(ircerr.KindDccProtocol, "no public IP configured for active DCC SEND")
	}

	ln, err := m.listenInRange()
	if err != nil {
		return "", err
	}

	t := &Transfer{
		ID:         m.newID(),
		Peer:       peer,
		Filename:   filenameOf(localPath),
		LocalPath:  localPath,
		Direction:  DirectionSend,
		State:      StateOffered,
		TotalBytes: info.Size(),
		IP:         m.opts.PublicIP,
		Port:       listenerPort(ln),
		StartedAt:  time.Now(),
	}
	m.register(t)

	line, err := FormatSendCTCP(t.Filename, t.IP, t.Port, t.TotalBytes, "")
	if err != nil {
		ln.Close()
		return "", err
	}
	if err := m.sender.SendCTCP(peer, line); err != nil {
		ln.Close()
		return "", err
	}

	go m.acceptAndRun(ln, t)
	return t.ID, nil
}

// acceptAndRun waits for one inbound connection on ln, then runs the
// transfer in whichever direction t requires: runSend when this side is
// the one offering the file (Active SEND, or the listening half of a
// Passive GET accept), runReceive when this side is waiting to receive
// (the listening half of a Passive SEND accept).
func (m *Manager) acceptAndRun(ln net.Listener, t *Transfer) {
	defer ln.Close()
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		resCh <- result{conn, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			t.fail(ircerr.Wrap(ircerr.KindDccTimeout, "no incoming DCC connection", r.err))
			m.emit(events.EventDccFailed, t, nil)
			return
		}
		if t.Direction == DirectionSend {
			m.runSend(r.conn, t)
		} else {
			m.runReceive(r.conn, t)
		}
	case <-time.After(constants.DccPassiveTokenTimeout):
		t.fail(ircerr.New(ircerr.KindDccTimeout, "peer never connected to DCC SEND offer"))
		m.emit(events.EventDccFailed, t, nil)
	}
}

// OfferPassiveSend begins a Passive DCC SEND: a token is advertised instead
// of an address, and the Manager waits for the peer to send back a
// DCC ACCEPT carrying its own listening IP/port before dialing out.
func (m *Manager) OfferPassiveSend(peer, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindDccProtocol, "cannot stat file to send", err)
	}

	token := newToken()
	t := &Transfer{
		ID:         m.newID(),
		Peer:       peer,
		Filename:   filenameOf(localPath),
		LocalPath:  localPath,
		Direction:  DirectionSend,
		State:      StateOffered,
		TotalBytes: info.Size(),
		Token:      token,
		Passive:    true,
		StartedAt:  time.Now(),
	}
	m.register(t)

	m.mu.Lock()
	m.passiveOffers[token] = &passiveOffer{
		transfer:  t,
		localPath: localPath,
		expiresAt: time.Now().Add(m.opts.PassiveTokenTimeout),
	}
	m.mu.Unlock()

	line, err := FormatSendCTCP(t.Filename, "0", 0, t.TotalBytes, token)
	if err != nil {
		return "", err
	}
	if err := m.sender.SendCTCP(peer, line); err != nil {
		return "", err
	}
	return t.ID, nil
}

// HandleDccCTCP adapts HandleIncomingCTCP to the Protocol Dispatcher's
// DccRouter interface (satisfied structurally; this package never imports
// internal/dispatch), logging rather than propagating parse/handling
// errors since there is no caller left to return them to.
func (m *Manager) HandleDccCTCP(peer, payload string) {
	if _, err := m.HandleIncomingCTCP(peer, payload); err != nil {
		logger.Log.Warn().Err(err).Str("peer", peer).Msg("dcc: failed to handle incoming CTCP")
	}
}

// HandleIncomingCTCP parses an inbound "DCC ..." CTCP payload and updates
// Manager state accordingly: a SEND offer registers a pending inbound
// transfer (the caller decides whether to AcceptReceive it); a passive
// ACCEPT dials back to complete a send this Manager offered; a resume
// ACCEPT resumes a send we are listening for. It returns the affected
// transfer, if any.
func (m *Manager) HandleIncomingCTCP(peer, payload string) (*Transfer, error) {
	parsed, err := ParseCTCP(payload)
	if err != nil {
		return nil, err
	}

	switch parsed.Command {
	case "SEND":
		return m.handleIncomingSend(peer, parsed.Send)
	case "ACCEPT":
		return m.handleIncomingAccept(peer, parsed.Accept)
	case "DCCCHECKSUM":
		return nil, m.VerifyChecksum(peer, payload)
	default:
		return nil, nil
	}
}

func (m *Manager) handleIncomingSend(peer string, offer *SendOffer) (*Transfer, error) {
	t := &Transfer{
		ID:        m.newID(),
		Peer:      peer,
		Filename:  offer.Filename,
		Direction: DirectionReceive,
		State:     StateOffered,
		TotalBytes: offer.FileSize,
		IP:        offer.IP,
		Port:      offer.Port,
		Token:     offer.Token,
		Passive:   offer.Passive,
	}
	m.register(t)
	m.emit(events.EventDccOffered, t, nil)
	return t, nil
}

func (m *Manager) handleIncomingAccept(peer string, accept *AcceptMessage) (*Transfer, error) {
	if accept.Passive {
		m.mu.Lock()
		offer, ok := m.passiveOffers[accept.Token]
		if ok {
			delete(m.passiveOffers, accept.Token)
		}
		m.mu.Unlock()
		if !ok {
			return nil, ircerr.New(ircerr.KindDccProtocol, "DCC ACCEPT for unknown passive token")
		}
		t := offer.transfer
		t.IP = accept.IP
		t.Port = accept.Port
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(accept.IP, strconv.Itoa(accept.Port)), 15*time.Second)
		if err != nil {
			t.fail(ircerr.Wrap(ircerr.KindDccTimeout, "could not connect to passive peer", err))
			m.emit(events.EventDccFailed, t, nil)
			return t, err
		}
		go m.runSend(conn, t)
		return t, nil
	}

	// Resume accept: find the matching pending send by filename+port.
	m.mu.Lock()
	var t *Transfer
	for _, cand := range m.transfers {
		if cand.Direction == DirectionSend && cand.Filename == accept.Filename && cand.Port == accept.Port {
			t = cand
			break
		}
	}
	m.mu.Unlock()
	if t == nil {
		return nil, ircerr.New(ircerr.KindDccProtocol, "DCC ACCEPT resume for unknown transfer")
	}
	t.StartOffset = accept.Position
	return t, nil
}

// AcceptReceive begins receiving an inbound transfer previously registered
// by HandleIncomingCTCP. For an active offer it dials the sender directly;
// for a passive offer it binds a listener, sends a DCC ACCEPT carrying the
// local address, and waits for the sender to connect.
func (m *Manager) AcceptReceive(id string) error {
	m.mu.Lock()
	t, ok := m.transfers[id]
	m.mu.Unlock()
	if !ok {
		return ircerr.New(ircerr.KindDccProtocol, "unknown transfer id")
	}

	dest, err := ValidateDownloadPath(t.Filename, m.opts.DownloadDir, m.opts.BlockedExtensions, m.opts.MaxFileSize, t.TotalBytes)
	if err != nil {
		t.fail(err)
		m.emit(events.EventDccFailed, t, nil)
		return err
	}
	t.LocalPath = dest

	if t.Passive {
		if m.opts.PublicIP == "" {
			return ircerr.New(ircerr.KindDccProtocol, "no public IP configured to accept a passive DCC offer")
		}
		ln, err := m.listenInRange()
		if err != nil {
			return err
		}
		line, err := FormatAcceptCTCP(t.Filename, m.opts.PublicIP, listenerPort(ln), 0, t.Token)
		if err != nil {
			ln.Close()
			return err
		}
		if err := m.sender.SendCTCP(t.Peer, line); err != nil {
			ln.Close()
			return err
		}
		go m.acceptAndRun(ln, t)
		return nil
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(t.IP, strconv.Itoa(t.Port)), 15*time.Second)
	if err != nil {
		t.fail(ircerr.Wrap(ircerr.KindDccTimeout, "could not connect to sender", err))
		m.emit(events.EventDccFailed, t, nil)
		return err
	}
	go m.runReceive(conn, t)
	return nil
}

// RequestResume asks the sender of a previously offered, not-yet-accepted
// transfer to resume from the given byte offset. The transfer actually
// resumes once the matching DCC ACCEPT arrives via HandleIncomingCTCP.
func (m *Manager) RequestResume(id string, position int64) error {
	m.mu.Lock()
	t, ok := m.transfers[id]
	m.mu.Unlock()
	if !ok {
		return ircerr.New(ircerr.KindDccProtocol, "unknown transfer id")
	}
	line := fmt.Sprintf("DCC RESUME %s %d %d", quoteIfSpaced(t.Filename), t.Port, position)
	return m.sender.SendCTCP(t.Peer, line)
}

func (m *Manager) runSend(conn net.Conn, t *Transfer) {
	defer conn.Close()
	t.setState(StateTransferring)

	f, err := os.Open(t.LocalPath)
	if err != nil {
		t.fail(ircerr.Wrap(ircerr.KindDccProtocol, "cannot open file to send", err))
		m.emit(events.EventDccFailed, t, nil)
		return
	}
	defer f.Close()

	if t.StartOffset > 0 {
		if _, err := f.Seek(t.StartOffset, io.SeekStart); err != nil {
			t.fail(ircerr.Wrap(ircerr.KindDccProtocol, "cannot seek to resume offset", err))
			m.emit(events.EventDccFailed, t, nil)
			return
		}
	}

	limiter := NewBandwidthLimiter(m.opts.SendBandwidthLimit)
	hasher := sha256.New()
	buf := make([]byte, 32*1024)
	sent := t.StartOffset
	lastEmit := time.Now()
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			limiter.WaitN(n)
			if _, err := conn.Write(buf[:n]); err != nil {
				t.fail(ircerr.Wrap(ircerr.KindDccTimeout, "write to peer failed", err))
				m.emit(events.EventDccFailed, t, nil)
				return
			}
			hasher.Write(buf[:n])
			sent += int64(n)
			t.addProgress(int64(n))
			if time.Since(lastEmit) > time.Second {
				m.emit(events.EventDccProgress, t, map[string]interface{}{"transferred": sent, "total": t.TotalBytes})
				lastEmit = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			t.fail(ircerr.Wrap(ircerr.KindDccProtocol, "read from local file failed", readErr))
			m.emit(events.EventDccFailed, t, nil)
			return
		}
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	t.complete(checksum)
	m.emit(events.EventDccCompleted, t, map[string]interface{}{"checksum": checksum})
	if err := m.sender.SendCTCP(t.Peer, FormatChecksumCTCP(t.Filename, "sha256", checksum)); err != nil {
		logger.Log.Warn().Err(err).Str("transfer", t.ID).Msg("dcc: failed to announce checksum")
	}
}

func (m *Manager) runReceive(conn net.Conn, t *Transfer) {
	defer conn.Close()
	t.setState(StateTransferring)

	flags := os.O_CREATE | os.O_WRONLY
	if t.StartOffset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(t.LocalPath, flags, 0o644)
	if err != nil {
		t.fail(ircerr.Wrap(ircerr.KindDccProtocol, "cannot open destination file", err))
		m.emit(events.EventDccFailed, t, nil)
		return
	}
	defer f.Close()

	limiter := NewBandwidthLimiter(m.opts.RecvBandwidthLimit)
	hasher := sha256.New()
	buf := make([]byte, 32*1024)
	received := t.StartOffset
	lastEmit := time.Now()
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			limiter.WaitN(n)
			if _, err := f.Write(buf[:n]); err != nil {
				t.fail(ircerr.Wrap(ircerr.KindDccProtocol, "write to local file failed", err))
				m.emit(events.EventDccFailed, t, nil)
				return
			}
			hasher.Write(buf[:n])
			received += int64(n)
			t.addProgress(int64(n))
			if time.Since(lastEmit) > time.Second {
				m.emit(events.EventDccProgress, t, map[string]interface{}{"transferred": received, "total": t.TotalBytes})
				lastEmit = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			t.fail(ircerr.Wrap(ircerr.KindDccTimeout, "read from peer failed", readErr))
			m.emit(events.EventDccFailed, t, nil)
			return
		}
		if t.TotalBytes > 0 && received >= t.TotalBytes {
			break
		}
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	t.complete(checksum)
	m.emit(events.EventDccCompleted, t, map[string]interface{}{"checksum": checksum})
}

// VerifyChecksum handles an inbound DCC DCCCHECKSUM announcement, comparing
// it against the locally computed checksum for the matching completed
// transfer and emitting the result. A mismatch marks the transfer Failed.
func (m *Manager) VerifyChecksum(peer, payload string) error {
	filename, algorithm, hexDigest, err := ParseChecksumCTCP(payload)
	if err != nil {
		return err
	}
	if algorithm != "sha256" {
		return ircerr.New(ircerr.KindDccChecksumMismatch, "unsupported checksum algorithm: "+algorithm)
	}

	m.mu.Lock()
	var t *Transfer
	for _, cand := range m.transfers {
		if cand.Peer == peer && cand.Filename == filename && cand.State == StateCompleted {
			t = cand
			break
		}
	}
	m.mu.Unlock()
	if t == nil {
		return ircerr.New(ircerr.KindDccProtocol, "checksum announcement for unknown completed transfer")
	}

	match := t.snapshot().Checksum == hexDigest
	m.emit(events.EventDccChecksumResult, t, map[string]interface{}{"match": match, "reported": hexDigest})
	if !match {
		mismatch := ircerr.New(ircerr.KindDccChecksumMismatch, "checksum mismatch for "+filename)
		t.fail(mismatch)
		m.emit(events.EventDccFailed, t, nil)
		return mismatch
	}
	return nil
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, offer := range m.passiveOffers {
		if now.After(offer.expiresAt) {
			offer.transfer.fail(ircerr.New(ircerr.KindDccTimeout, "passive DCC offer expired"))
			delete(m.passiveOffers, token)
		}
	}
	for id, t := range m.transfers {
		snap := t.snapshot()
		if (snap.State == StateCompleted || snap.State == StateFailed || snap.State == StateCancelled) &&
			!snap.CompletedAt.IsZero() && now.Sub(snap.CompletedAt) > m.opts.TransferMaxAge {
			delete(m.transfers, id)
		}
	}
}

func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
