// Package ircmsg parses and serializes single IRC protocol lines, including
// IRCv3 message tags. It uses only the standard library; its Message type
// is its own, with the source split into Nick, User and Host.
package ircmsg

import (
	"errors"
	"strings"
)

const maxLineLength = 8192

// ErrMalformedLine is returned for a line that cannot be parsed: an empty
// verb, a stray NUL byte, or a line exceeding the wire size limit.
var ErrMalformedLine = errors.New("ircmsg: malformed line")

// Source identifies the sender of a message via its IRC prefix.
type Source struct {
	Nick string
	User string
	Host string
}

// Message is a single parsed (or to-be-serialized) IRC protocol line.
type Message struct {
	Tags    map[string]string
	Source  Source
	Verb    string
	Params  []string
}

// HasSource reports whether the message carried a ":nick!user@host" prefix.
func (m Message) HasSource() bool {
	return m.Source.Nick != "" || m.Source.Host != ""
}

// Trailing returns the last parameter, which is the trailing argument when
// the wire form used a leading ':'. Returns "" if there are no parameters.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

var tagUnescape = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\r`, "\r",
	`\n`, "\n",
	`\\`, "\\",
)

var tagEscape = strings.NewReplacer(
	"\\", `\\`,
	";", `\:`,
	" ", `\s`,
	"\r", `\r`,
	"\n", `\n`,
)

// unescapeTagValue applies the IRCv3 tag-value unescape map. A lone trailing
// backslash (not part of a recognized two-character escape) is dropped.
func unescapeTagValue(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' {
			b.WriteByte(raw[i])
			continue
		}
		if i+1 >= len(raw) {
			// Lone trailing backslash: drop it.
			break
		}
		switch raw[i+1] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			// Unrecognized escape: drop the backslash, keep the char.
			b.WriteByte(raw[i+1])
		}
		i++
	}
	return b.String()
}

func escapeTagValue(value string) string {
	return tagEscape.Replace(value)
}

// Parse parses a single IRC line. The line must already have its trailing
// CR/LF/CRLF terminator stripped by the caller (see SplitLines).
func Parse(line string) (Message, error) {
	if len(line) > maxLineLength {
		return Message{}, ErrMalformedLine
	}
	if strings.IndexByte(line, 0) >= 0 {
		return Message{}, ErrMalformedLine
	}

	var msg Message
	rest := line

	if strings.HasPrefix(rest, "@") {
		sp := strings.IndexByte(rest, ' ')
		var tagStr string
		if sp < 0 {
			tagStr = rest[1:]
			rest = ""
		} else {
			tagStr = rest[1:sp]
			rest = strings.TrimLeft(rest[sp+1:], " ")
		}
		msg.Tags = parseTags(tagStr)
	}

	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		var srcStr string
		if sp < 0 {
			srcStr = rest[1:]
			rest = ""
		} else {
			srcStr = rest[1:sp]
			rest = strings.TrimLeft(rest[sp+1:], " ")
		}
		msg.Source = parseSource(srcStr)
	}

	if rest == "" {
		return Message{}, ErrMalformedLine
	}

	params, verb, err := parseVerbAndParams(rest)
	if err != nil {
		return Message{}, err
	}
	msg.Verb = verb
	msg.Params = params
	return msg, nil
}

func parseTags(tagStr string) map[string]string {
	if tagStr == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, tag := range strings.Split(tagStr, ";") {
		if tag == "" {
			continue
		}
		key := tag
		value := ""
		if eq := strings.IndexByte(tag, '='); eq >= 0 {
			key = tag[:eq]
			value = unescapeTagValue(tag[eq+1:])
		}
		tags[strings.ToLower(key)] = value
	}
	return tags
}

func parseSource(srcStr string) Source {
	var src Source
	rest := srcStr
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		src.Host = rest[at+1:]
		rest = rest[:at]
	}
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		src.User = rest[bang+1:]
		rest = rest[:bang]
	}
	src.Nick = rest
	return src
}

func parseVerbAndParams(rest string) ([]string, string, error) {
	var verb string
	var params []string

	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			params = append(params, rest[1:])
			rest = ""
			break
		}
		sp := strings.IndexByte(rest, ' ')
		var tok string
		if sp < 0 {
			tok = rest
			rest = ""
		} else {
			tok = rest[:sp]
			rest = strings.TrimLeft(rest[sp+1:], " ")
		}
		if verb == "" {
			verb = tok
			continue
		}
		params = append(params, tok)
	}

	if verb == "" {
		return nil, "", ErrMalformedLine
	}
	return params, normalizeVerb(verb), nil
}

func normalizeVerb(verb string) string {
	for _, r := range verb {
		if r < '0' || r > '9' {
			return strings.ToUpper(verb)
		}
	}
	return verb
}

// Serialize renders msg back to wire form, without a line terminator.
func Serialize(msg Message) (string, error) {
	if msg.Verb == "" {
		return "", ErrMalformedLine
	}

	var b strings.Builder

	if len(msg.Tags) > 0 {
		b.WriteByte('@')
		first := true
		for k, v := range msg.Tags {
			if !first {
				b.WriteByte(';')
			}
			first = false
			b.WriteString(k)
			if v != "" {
				b.WriteByte('=')
				b.WriteString(escapeTagValue(v))
			}
		}
		b.WriteByte(' ')
	}

	if msg.HasSource() {
		b.WriteByte(':')
		b.WriteString(msg.Source.Nick)
		if msg.Source.User != "" {
			b.WriteByte('!')
			b.WriteString(msg.Source.User)
		}
		if msg.Source.Host != "" {
			b.WriteByte('@')
			b.WriteString(msg.Source.Host)
		}
		b.WriteByte(' ')
	}

	b.WriteString(msg.Verb)

	for i, p := range msg.Params {
		b.WriteByte(' ')
		last := i == len(msg.Params)-1
		if last && (strings.Contains(p, " ") || strings.HasPrefix(p, ":") || p == "") {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}

	out := b.String()
	if len(out) > maxLineLength {
		return "", ErrMalformedLine
	}
	return out, nil
}

// SplitLines splits accumulated buffered bytes on CR, LF, or CRLF terminators.
// It returns the complete lines found and the unconsumed remainder to keep
// buffering. Terminators are stripped from the returned lines.
func SplitLines(buf []byte) (lines []string, remainder []byte) {
	start := 0
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\n':
			lines = append(lines, string(buf[start:i]))
			start = i + 1
		case '\r':
			end := i
			if i+1 < len(buf) && buf[i+1] == '\n' {
				i++
			}
			lines = append(lines, string(buf[start:end]))
			start = i + 1
		}
	}
	return lines, buf[start:]
}
