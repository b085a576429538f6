// Package dcc implements the DCC SEND/GET file-transfer subsystem (L10):
// wire-format parsing/formatting for the CTCP DCC handshake, filename/path
// security checks, and the transfer + manager types that drive Active and
// Passive sends with bandwidth pacing, resume, and checksum verification.
//
// Wire-format behavior is grounded on original_source/dcc_protocol.py.
package dcc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cascade-irc/client/internal/ircerr"
)

// SendOffer is a parsed "DCC SEND" CTCP payload, active or passive.
type SendOffer struct {
	Filename string
	IP       string
	Port     int // 0 for a passive offer
	FileSize int64
	Token    string
	Passive  bool
}

// AcceptMessage is a parsed "DCC ACCEPT" CTCP payload: either a passive-flow
// accept (carries the receiver's listening IP/port) or a resume accept
// (carries the sender's original port and the resume byte offset).
type AcceptMessage struct {
	Filename string
	IP       string // only set for a passive accept
	Port     int
	Position int64
	Token    string // only set for a passive accept
	Passive  bool
}

// ParseIPPort converts a DCC SEND's packed-integer IP string and port string
// into a dotted IP and int port.
func ParseIPPort(ipIntStr, portStr string) (string, int, error) {
	ipInt, err := strconv.ParseUint(ipIntStr, 10, 32)
	if err != nil {
		return "", 0, ircerr.Wrap(ircerr.KindDccProtocol, "invalid DCC ip integer", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, ircerr.New(ircerr.KindDccProtocol, "invalid DCC port")
	}
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(ipInt))
	ip := net.IPv4(raw[0], raw[1], raw[2], raw[3])
	return ip.String(), port, nil
}

// FormatIPInt converts a dotted IPv4 string into the 32-bit big-endian
// integer DCC SEND expects.
func FormatIPInt(ipStr string) (uint32, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return 0, ircerr.New(ircerr.KindDccProtocol, "invalid IPv4 address: "+ipStr)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, ircerr.New(ircerr.KindDccProtocol, "not an IPv4 address: "+ipStr)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// ParsedMessage is one parsed DCC CTCP payload.
type ParsedMessage struct {
	Command string
	Send    *SendOffer
	Accept  *AcceptMessage
}

// ParseCTCP parses the body of a "DCC ..." CTCP message (the text between
// the \x01 delimiters, with the leading "DCC " already confirmed by the
// caller's CTCP router).
func ParseCTCP(message string) (*ParsedMessage, error) {
	fields := splitRespectingQuotes(strings.TrimSpace(message))
	if len(fields) < 2 || fields[0] != "DCC" {
		return nil, ircerr.New(ircerr.KindDccProtocol, "not a DCC CTCP message")
	}
	command := strings.ToUpper(fields[1])
	args := fields[2:]

	switch command {
	case "SEND":
		return parseSend(args)
	case "ACCEPT":
		return parseAccept(args)
	default:
		return &ParsedMessage{Command: command}, nil
	}
}

func parseSend(args []string) (*ParsedMessage, error) {
	if len(args) < 4 {
		return nil, ircerr.New(ircerr.KindDccProtocol, "DCC SEND has too few arguments")
	}

	var filename, ipStr, portStr, sizeStr, token string
	passive := false
	if len(args) >= 5 {
		port, err := strconv.Atoi(args[len(args)-4])
		if err == nil && port == 0 {
			passive = true
			token = args[len(args)-1]
			sizeStr = args[len(args)-2]
			portStr = args[len(args)-3]
			ipStr = args[len(args)-4]
			filename = strings.Join(args[:len(args)-4], " ")
		}
	}
	if !passive {
		sizeStr = args[len(args)-1]
		portStr = args[len(args)-2]
		ipStr = args[len(args)-3]
		filename = strings.Join(args[:len(args)-3], " ")
	}

	ip, port, err := ParseIPPort(ipStr, portStr)
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return nil, ircerr.New(ircerr.KindDccProtocol, "invalid DCC SEND filesize")
	}

	return &ParsedMessage{
		Command: "SEND",
		Send: &SendOffer{
			Filename: strings.Trim(filename, `"`),
			IP:       ip,
			Port:     port,
			FileSize: size,
			Token:    token,
			Passive:  passive,
		},
	}, nil
}

func parseAccept(args []string) (*ParsedMessage, error) {
	if len(args) < 3 {
		return nil, ircerr.New(ircerr.KindDccProtocol, "DCC ACCEPT has too few arguments")
	}

	if len(args) >= 4 {
		hasToken := len(args) == 5
		var positionStr, portStr, ipStr, token, filename string
		if hasToken {
			token = args[len(args)-1]
			positionStr = args[len(args)-2]
			portStr = args[len(args)-3]
			ipStr = args[len(args)-4]
			filename = strings.Join(args[:len(args)-4], " ")
		} else {
			positionStr = args[len(args)-1]
			portStr = args[len(args)-2]
			ipStr = args[len(args)-3]
			filename = strings.Join(args[:len(args)-3], " ")
		}
		if position, err := strconv.ParseInt(positionStr, 10, 64); err == nil && position == 0 {
			if ip, port, err := ParseIPPort(ipStr, portStr); err == nil {
				return &ParsedMessage{
					Command: "ACCEPT",
					Accept: &AcceptMessage{
						Filename: strings.Trim(filename, `"`),
						IP:       ip,
						Port:     port,
						Position: 0,
						Token:    token,
						Passive:  true,
					},
				}, nil
			}
		}
	}

	if len(args) == 3 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return nil, ircerr.New(ircerr.KindDccProtocol, "invalid DCC ACCEPT (resume) port")
		}
		position, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || position < 0 {
			return nil, ircerr.New(ircerr.KindDccProtocol, "invalid DCC ACCEPT (resume) position")
		}
		return &ParsedMessage{
			Command: "ACCEPT",
			Accept: &AcceptMessage{
				Filename: strings.Trim(args[0], `"`),
				Port:     port,
				Position: position,
			},
		}, nil
	}

	return nil, ircerr.New(ircerr.KindDccProtocol, "could not parse DCC ACCEPT as passive or resume")
}

// FormatSendCTCP renders a DCC SEND offer. port == 0 with a non-empty token
// formats a passive offer; otherwise an active offer.
func FormatSendCTCP(filename, ip string, port int, fileSize int64, token string) (string, error) {
	var ipInt uint32
	if ip != "0" {
		var err error
		ipInt, err = FormatIPInt(ip)
		if err != nil {
			return "", err
		}
	}
	if port < 0 || port > 65535 || fileSize < 0 {
		return "", ircerr.New(ircerr.KindDccProtocol, "invalid port or filesize for DCC SEND")
	}
	quoted := quoteIfSpaced(filename)
	if port == 0 && token != "" {
		return fmt.Sprintf("DCC SEND %s %d 0 %d %s", quoted, ipInt, fileSize, token), nil
	}
	return fmt.Sprintf("DCC SEND %s %d %d %d", quoted, ipInt, port, fileSize), nil
}

// FormatAcceptCTCP renders a DCC ACCEPT. Passing a non-empty token renders
// the passive-accept form (ip+port+token); an empty token renders the
// resume-accept form (port+position only).
func FormatAcceptCTCP(filename, ip string, port int, position int64, token string) (string, error) {
	quoted := quoteIfSpaced(filename)
	if token != "" {
		ipInt, err := FormatIPInt(ip)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("DCC ACCEPT %s %d %d %d %s", quoted, ipInt, port, position, token), nil
	}
	if port < 0 || port > 65535 || position < 0 {
		return "", ircerr.New(ircerr.KindDccProtocol, "invalid port or position for DCC ACCEPT")
	}
	return fmt.Sprintf("DCC ACCEPT %s %d %d", quoted, port, position), nil
}

// FormatChecksumCTCP renders the extension checksum-announcement message
// sent after a completed transfer so the peer can verify integrity.
func FormatChecksumCTCP(filename, algorithm, hexDigest string) string {
	return fmt.Sprintf("DCC DCCCHECKSUM %s %s %s", quoteIfSpaced(filename), algorithm, hexDigest)
}

// ParseChecksumCTCP parses a "DCC DCCCHECKSUM <filename> <algorithm> <hex>"
// message.
func ParseChecksumCTCP(message string) (filename, algorithm, hexDigest string, err error) {
	fields := splitRespectingQuotes(strings.TrimSpace(message))
	if len(fields) != 5 || fields[0] != "DCC" || strings.ToUpper(fields[1]) != "DCCCHECKSUM" {
		return "", "", "", ircerr.New(ircerr.KindDccProtocol, "not a DCC DCCCHECKSUM message")
	}
	return strings.Trim(fields[2], `"`), strings.ToLower(fields[3]), fields[4], nil
}

func quoteIfSpaced(filename string) string {
	if strings.Contains(filename, " ") {
		return `"` + filename + `"`
	}
	return filename
}

// splitRespectingQuotes splits on whitespace but keeps a "quoted filename"
// as one field.
func splitRespectingQuotes(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ' ' && !inQuotes:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
