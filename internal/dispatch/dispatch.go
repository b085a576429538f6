// Package dispatch implements the Protocol Dispatcher (L9): it consumes
// parsed messages and routes them to handlers keyed by verb, maintaining the
// channel/user models in the State Store and the per-target scrollback in
// the Context/Scrollback Model, and emitting events on the Event Bus.
//
// Grounded on the classic setupHandlers numeric/command callback table,
// generalized from GUI-event-emitting callbacks into state-mutating
// handlers plus event emission.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/context"
	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/ircmsg"
	"github.com/cascade-irc/client/internal/logger"
	"github.com/cascade-irc/client/internal/state"
)

// Sender is the minimal outbound capability the Dispatcher needs; satisfied
// by internal/transport.Transport.
type Sender interface {
	SendLine(line string) error
}

// DccRouter receives raw "DCC ..." CTCP payloads for the caller to hand off
// to a DCC subsystem. Kept as a narrow interface (rather than importing
// internal/dcc directly) so the Dispatcher stays usable without a DCC
// subsystem wired in.
type DccRouter interface {
	HandleDccCTCP(peer, payload string)
}

// Archiver persists one line of scrollback to a queryable store. Kept as a
// narrow interface (rather than importing internal/storage directly) so the
// Dispatcher stays usable without an archive wired in; a failed write is the
// archive's problem to log, never the Dispatcher's to retry or block on.
type Archiver interface {
	WriteArchiveEntry(network, target, nick, kind, body, rawLine string, timestamp time.Time) error
}

const ctcpDelim = "\x01"

// Dispatcher routes inbound messages for one connection.
type Dispatcher struct {
	sender   Sender
	channels *state.ChannelSet
	contexts *context.Manager
	bus      *events.EventBus

	mu          sync.Mutex
	selfNick    string
	echoDedup   map[string]time.Time
	pendingWhois map[string]*whoisAccumulator
	dccRouter    DccRouter
	archiver     Archiver
	networkKey   string
}

type whoisAccumulator struct {
	nick     string
	user     string
	host     string
	realName string
	server   string
	idleSecs int
	account  string
	channels []string
}

// New creates a Dispatcher bound to the given channel/user model, context
// manager, and event bus.
func New(sender Sender, channels *state.ChannelSet, contexts *context.Manager, bus *events.EventBus, selfNick string) *Dispatcher {
	return &Dispatcher{
		sender:       sender,
		channels:     channels,
		contexts:     contexts,
		bus:          bus,
		selfNick:     selfNick,
		echoDedup:    make(map[string]time.Time),
		pendingWhois: make(map[string]*whoisAccumulator),
	}
}

// SetSelfNick updates the nick the dispatcher treats as "us" (for
// self-PART/KICK and echo-message dedup). The Registration Handler and NICK
// handling call this as the confirmed nick changes.
func (d *Dispatcher) SetSelfNick(nick string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selfNick = nick
}

// SetDccRouter wires a DCC subsystem to receive "DCC ..." CTCP payloads
// seen in inbound PRIVMSGs. Without one, DCC offers are silently ignored.
func (d *Dispatcher) SetDccRouter(router DccRouter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dccRouter = router
}

// SetArchiver wires a scrollback archive to receive a copy of every archived
// event. networkKey identifies this connection in the archive (its
// ConnectionInfo.NetworkKey()). Without an archiver, nothing is archived.
func (d *Dispatcher) SetArchiver(archiver Archiver, networkKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.archiver = archiver
	d.networkKey = networkKey
}

// archive records one scrollback line in the wired Archiver, if any. It
// never blocks or propagates an error to the caller: a failed or absent
// archive write must not affect live dispatch.
func (d *Dispatcher) archive(target, nick, kind, body string, msg ircmsg.Message) {
	d.mu.Lock()
	archiver := d.archiver
	networkKey := d.networkKey
	d.mu.Unlock()
	if archiver == nil {
		return
	}
	raw, err := ircmsg.Serialize(msg)
	if err != nil {
		raw = ""
	}
	if err := archiver.WriteArchiveEntry(networkKey, target, nick, kind, body, raw, time.Now()); err != nil {
		logger.Log.Debug().Err(err).Str("kind", kind).Msg("dispatch: archive write failed")
	}
}

func (d *Dispatcher) isSelf(nick string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.EqualFold(nick, d.selfNick)
}

// Dispatch routes one parsed message. Handlers recover locally: a
// malformed or unexpected shape logs and returns rather than panicking the
// caller's loop.
func (d *Dispatcher) Dispatch(msg ircmsg.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Str("verb", msg.Verb).Msg("dispatch: recovered from handler panic")
		}
	}()

	switch msg.Verb {
	case "PING":
		d.handlePing(msg)
	case "PRIVMSG":
		d.handlePrivmsgOrNotice(msg, false)
	case "NOTICE":
		d.handlePrivmsgOrNotice(msg, true)
	case "JOIN":
		d.handleJoin(msg)
	case "PART":
		d.handlePart(msg)
	case "KICK":
		d.handleKick(msg)
	case "QUIT":
		d.handleQuit(msg)
	case "NICK":
		d.handleNick(msg)
	case "MODE":
		d.handleMode(msg)
	case "TOPIC":
		d.handleTopic(msg)
	case "332":
		d.handleRplTopic(msg)
	case "333":
		d.handleRplTopicWhoTime(msg)
	case "353":
		d.handleNamReply(msg)
	case "366":
		d.handleEndOfNames(msg)
	case "005":
		d.handleIsupport(msg)
	case "311":
		d.whoisUser(msg)
	case "312":
		d.whoisServer(msg)
	case "317":
		d.whoisIdle(msg)
	case "319":
		d.whoisChannels(msg)
	case "330":
		d.whoisAccount(msg)
	case "318":
		d.whoisEnd(msg)
	case "ERROR":
		d.handleError(msg)
	default:
		d.handleUnknownNumeric(msg)
	}
}

func (d *Dispatcher) emit(eventType string, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{Type: eventType, Data: data, Timestamp: time.Now(), Source: events.EventSourceIRC})
}

func (d *Dispatcher) handlePing(msg ircmsg.Message) {
	trailing := ""
	if len(msg.Params) > 0 {
		trailing = msg.Params[len(msg.Params)-1]
	}
	if err := d.sender.SendLine("PONG :" + trailing); err != nil {
		logger.Log.Warn().Err(err).Msg("dispatch: failed to reply to PING")
	}
}

func (d *Dispatcher) handlePrivmsgOrNotice(msg ircmsg.Message, isNotice bool) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]
	text := msg.Params[len(msg.Params)-1]
	fromNick := msg.Source.Nick

	if strings.HasPrefix(text, ctcpDelim) && strings.HasSuffix(text, ctcpDelim) {
		d.handleCTCP(msg, isNotice, fromNick, target, text)
		return
	}

	if !isNotice && d.isSelf(fromNick) {
		if d.dedupEcho(target, text) {
			return
		}
	}

	ctx := d.contextFor(target, fromNick)
	verb := "PRIVMSG"
	if isNotice {
		verb = "NOTICE"
	}
	line := fmt.Sprintf("<%s> %s", fromNick, text)
	ctx.Append(line)
	d.archive(target, fromNick, strings.ToLower(verb), text, msg)

	d.emit(events.EventMessageReceived, map[string]interface{}{
		"verb": verb, "from": fromNick, "target": target, "text": text, "tags": msg.Tags,
	})
}

func (d *Dispatcher) dedupEcho(target, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := target + "\x00" + text
	now := time.Now()
	for k, t := range d.echoDedup {
		if now.Sub(t) > 10*time.Second {
			delete(d.echoDedup, k)
		}
	}
	if _, seen := d.echoDedup[key]; seen {
		delete(d.echoDedup, key)
		return true
	}
	return false
}

// NoteSelfSent records a locally-originated (target, text) pair so the
// corresponding echo-message reflection from the server is suppressed
// instead of rendered twice.
func (d *Dispatcher) NoteSelfSent(target, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.echoDedup[target+"\x00"+text] = time.Now()
}

func (d *Dispatcher) contextFor(target, fromNick string) *context.Context {
	if isChannelName(target) {
		return d.contexts.EnsureChannel(target)
	}
	if d.isSelf(target) {
		return d.contexts.EnsureQuery(fromNick)
	}
	return d.contexts.EnsureQuery(target)
}

func isChannelName(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}

func (d *Dispatcher) handleCTCP(msg ircmsg.Message, isNotice bool, fromNick, target, text string) {
	inner := strings.Trim(text, ctcpDelim)
	parts := strings.SplitN(inner, " ", 2)
	command := strings.ToUpper(parts[0])
	args := ""
	if len(parts) > 1 {
		args = parts[1]
	}

	if command == "ACTION" {
		ctx := d.contextFor(target, fromNick)
		ctx.Append(fmt.Sprintf("* %s %s", fromNick, args))
		d.archive(target, fromNick, "action", args, msg)
		d.emit(events.EventMessageReceived, map[string]interface{}{
			"verb": "ACTION", "from": fromNick, "target": target, "text": args,
		})
		return
	}

	if command == "DCC" {
		d.mu.Lock()
		router := d.dccRouter
		d.mu.Unlock()
		if router != nil {
			router.HandleDccCTCP(fromNick, inner)
		}
		return
	}

	if isNotice {
		// CTCP replies arrive as NOTICE; we don't auto-reply to those.
		return
	}

	var response string
	switch command {
	case "VERSION":
		response = "Cascade IRC Client"
	case "TIME":
		response = time.Now().Format(time.RFC1123Z)
	case "PING":
		if args != "" {
			response = args
		} else {
			response = strconv.FormatInt(time.Now().Unix(), 10)
		}
	default:
		return
	}

	reply := ctcpDelim + command + " " + response + ctcpDelim
	if err := d.sender.SendLine("NOTICE " + fromNick + " :" + reply); err != nil {
		logger.Log.Warn().Err(err).Str("command", command).Msg("dispatch: failed to send CTCP reply")
	}
}

func (d *Dispatcher) handleJoin(msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		return
	}
	channel := msg.Params[0]
	nick := msg.Source.Nick

	d.channels.AddMember(channel, nick, nil)
	if d.isSelf(nick) {
		ctx := d.contexts.EnsureChannel(channel)
		if ch, ok := d.channels.Channel(channel); ok {
			ch.JoinComplete = false
		}
		ctx.Append(fmt.Sprintf("* You have joined %s", channel))
		d.archive(channel, nick, "join", "has joined "+channel, msg)
	} else {
		d.contexts.EnsureChannel(channel).Append(fmt.Sprintf("* %s has joined %s", nick, channel))
		d.archive(channel, nick, "join", "has joined "+channel, msg)
	}
	d.emit(events.EventUserJoined, map[string]interface{}{"channel": channel, "nick": nick})
}

func (d *Dispatcher) handlePart(msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		return
	}
	channel := msg.Params[0]
	nick := msg.Source.Nick
	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[len(msg.Params)-1]
	}

	d.channels.RemoveMember(channel, nick)
	ctx := d.contexts.EnsureChannel(channel)
	ctx.Append(fmt.Sprintf("* %s has left %s (%s)", nick, channel, reason))
	d.archive(channel, nick, "part", reason, msg)
	if d.isSelf(nick) {
		if ch, ok := d.channels.Channel(channel); ok {
			ch.JoinComplete = false
		}
	}
	d.emit(events.EventUserParted, map[string]interface{}{"channel": channel, "nick": nick, "reason": reason})
}

func (d *Dispatcher) handleKick(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[0]
	kicked := msg.Params[1]
	reason := ""
	if len(msg.Params) > 2 {
		reason = msg.Params[len(msg.Params)-1]
	}
	d.channels.RemoveMember(channel, kicked)
	ctx := d.contexts.EnsureChannel(channel)
	ctx.Append(fmt.Sprintf("* %s was kicked from %s by %s (%s)", kicked, channel, msg.Source.Nick, reason))
	d.archive(channel, msg.Source.Nick, "kick", kicked+" "+reason, msg)
	if d.isSelf(kicked) {
		if ch, ok := d.channels.Channel(channel); ok {
			ch.JoinComplete = false
		}
	}
	d.emit(events.EventUserParted, map[string]interface{}{"channel": channel, "nick": kicked, "kicked_by": msg.Source.Nick, "reason": reason})
}

func (d *Dispatcher) handleQuit(msg ircmsg.Message) {
	nick := msg.Source.Nick
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[len(msg.Params)-1]
	}
	d.channels.RemoveUserEverywhere(nick)
	d.emit(events.EventUserQuit, map[string]interface{}{"nick": nick, "reason": reason})
}

func (d *Dispatcher) handleNick(msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		return
	}
	oldNick := msg.Source.Nick
	newNick := msg.Params[0]
	d.channels.RenameUser(oldNick, newNick)
	if d.isSelf(oldNick) {
		d.SetSelfNick(newNick)
	}
	d.emit(events.EventUserNick, map[string]interface{}{"old_nick": oldNick, "new_nick": newNick})
}

func (d *Dispatcher) handleMode(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]
	if !isChannelName(target) {
		return // user mode changes are out of this dispatcher's channel model
	}
	modeString := msg.Params[1]
	params := msg.Params[2:]
	deltas := d.channels.ApplyChannelMode(target, modeString, params)
	d.emit(events.EventChannelMode, map[string]interface{}{"channel": target, "deltas": deltas, "by": msg.Source.Nick})
}

func (d *Dispatcher) handleTopic(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[0]
	topic := msg.Params[len(msg.Params)-1]
	if ch, ok := d.channels.Channel(channel); ok {
		ch.Topic = topic
		ch.TopicSetBy = msg.Source.Nick
	}
	d.contexts.EnsureChannel(channel).Append(fmt.Sprintf("* %s changed topic to: %s", msg.Source.Nick, topic))
	d.archive(channel, msg.Source.Nick, "topic", topic, msg)
	d.emit(events.EventChannelTopic, map[string]interface{}{"channel": channel, "topic": topic, "by": msg.Source.Nick})
}

func (d *Dispatcher) handleRplTopic(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	channel := msg.Params[1]
	topic := msg.Params[len(msg.Params)-1]
	if ch, ok := d.channels.Channel(channel); !ok {
		ch = d.channels.EnsureChannel(channel)
		ch.Topic = topic
	} else {
		ch.Topic = topic
	}
}

func (d *Dispatcher) handleRplTopicWhoTime(msg ircmsg.Message) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[1]
	setter := msg.Params[2]
	ts, _ := strconv.ParseInt(msg.Params[3], 10, 64)
	if ch, ok := d.channels.Channel(channel); ok {
		ch.TopicSetBy = setter
		ch.TopicSetAt = ts
	}
}

func (d *Dispatcher) handleNamReply(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	channel := msg.Params[2]
	names := strings.Fields(msg.Params[len(msg.Params)-1])
	d.channels.AccumulateNames(channel, names)
}

func (d *Dispatcher) handleEndOfNames(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[1]
	d.channels.FlushNames(channel)
	d.emit("CHANNEL_FULLY_JOINED", map[string]interface{}{"channel": channel})
}

func (d *Dispatcher) handleIsupport(msg ircmsg.Message) {
	features := d.channels.Features()
	for _, token := range msg.Params[1:] {
		if token == "" || !strings.Contains(token, "=") {
			continue
		}
		parts := strings.SplitN(token, "=", 2)
		key, value := parts[0], parts[1]
		switch key {
		case "PREFIX":
			prefixToMode, order := state.ParseIsupportPrefix(value)
			features.Prefix = prefixToMode
			features.PrefixOrder = order
		case "CHANTYPES":
			features.ChanTypes = value
		case "CASEMAPPING":
			switch value {
			case "ascii":
				features.CaseMapping = state.CaseMappingAscii
			default:
				features.CaseMapping = state.CaseMappingRFC1459
			}
		case "CHANMODES":
			groups := strings.Split(value, ",")
			for i := 0; i < 4 && i < len(groups); i++ {
				features.ChanModes[i] = groups[i]
			}
		}
	}
	d.channels.SetFeatures(features)
}

func (d *Dispatcher) whoisGet(nick string) *whoisAccumulator {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.pendingWhois[strings.ToLower(nick)]
	if !ok {
		w = &whoisAccumulator{nick: nick}
		d.pendingWhois[strings.ToLower(nick)] = w
	}
	return w
}

func (d *Dispatcher) whoisUser(msg ircmsg.Message) {
	if len(msg.Params) < 6 {
		return
	}
	w := d.whoisGet(msg.Params[1])
	w.user = msg.Params[2]
	w.host = msg.Params[3]
	w.realName = msg.Params[len(msg.Params)-1]
}

func (d *Dispatcher) whoisServer(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	w := d.whoisGet(msg.Params[1])
	w.server = msg.Params[2]
}

func (d *Dispatcher) whoisIdle(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	w := d.whoisGet(msg.Params[1])
	secs, _ := strconv.Atoi(msg.Params[2])
	w.idleSecs = secs
}

func (d *Dispatcher) whoisChannels(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	w := d.whoisGet(msg.Params[1])
	w.channels = strings.Fields(msg.Params[len(msg.Params)-1])
}

func (d *Dispatcher) whoisAccount(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	w := d.whoisGet(msg.Params[1])
	w.account = msg.Params[2]
}

func (d *Dispatcher) whoisEnd(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	nick := msg.Params[1]
	d.mu.Lock()
	w, ok := d.pendingWhois[strings.ToLower(nick)]
	delete(d.pendingWhois, strings.ToLower(nick))
	d.mu.Unlock()
	if !ok {
		return
	}
	d.emit("WHOIS_RESULT", map[string]interface{}{
		"nick": w.nick, "user": w.user, "host": w.host, "real_name": w.realName,
		"server": w.server, "idle_seconds": w.idleSecs, "account": w.account, "channels": w.channels,
	})
}

func (d *Dispatcher) handleError(msg ircmsg.Message) {
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[len(msg.Params)-1]
	}
	d.contexts.Status().Append("* ERROR: " + reason)
	d.emit(events.EventError, map[string]interface{}{"fatal": true, "reason": reason})
}

func (d *Dispatcher) handleUnknownNumeric(msg ircmsg.Message) {
	trailing := ""
	if len(msg.Params) > 0 {
		trailing = msg.Params[len(msg.Params)-1]
	}
	d.contexts.Status().Append(fmt.Sprintf("* [%s] %s", msg.Verb, trailing))
}
