package state

import "strings"

// AccumulateNames parses one RPL_NAMREPLY (353) entry list into the
// channel's pending-names buffer. Multi-prefix nicks (e.g. "@+bob") are
// preserved as a full prefix set, not collapsed to the highest one.
func (cs *ChannelSet) AccumulateNames(channelName string, entries []string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	key := cs.canon(channelName)
	ch, ok := cs.channels[key]
	if !ok {
		ch = newChannel(key, channelName)
		cs.channels[key] = ch
		cs.joinOrder = append(cs.joinOrder, key)
	}

	prefixChars := make(map[rune]bool, len(cs.features.PrefixOrder))
	for _, p := range cs.features.PrefixOrder {
		prefixChars[p] = true
	}

	for _, entry := range entries {
		if entry == "" {
			continue
		}
		runes := []rune(entry)
		i := 0
		prefixes := make(map[rune]bool)
		for i < len(runes) && prefixChars[runes[i]] {
			prefixes[runes[i]] = true
			i++
		}
		nick := string(runes[i:])
		if nick == "" {
			continue
		}
		ch.pendingNames[cs.canon(nick)] = prefixes
		cs.users[cs.canon(nick)] = &User{Nick: nick}
	}
}

// FlushNames finalizes RPL_ENDOFNAMES (366): the pending-names buffer
// becomes the channel's authoritative membership and JoinComplete is set.
func (cs *ChannelSet) FlushNames(channelName string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ch, ok := cs.channels[cs.canon(channelName)]
	if !ok {
		return
	}
	ch.Users = ch.pendingNames
	ch.pendingNames = make(map[string]map[rune]bool)
	ch.JoinComplete = true
}

// ParseIsupportPrefix parses the PREFIX token's value, e.g. "(ov)@+",
// mapping prefix characters to mode letters in advertised-privilege order.
func ParseIsupportPrefix(value string) (prefixToMode map[rune]rune, order []rune) {
	prefixToMode = make(map[rune]rune)
	open := strings.IndexByte(value, '(')
	closeIdx := strings.IndexByte(value, ')')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return prefixToMode, nil
	}
	modes := []rune(value[open+1 : closeIdx])
	chars := []rune(value[closeIdx+1:])
	for i := 0; i < len(modes) && i < len(chars); i++ {
		prefixToMode[chars[i]] = modes[i]
		order = append(order, chars[i])
	}
	return prefixToMode, order
}

// ModeDelta describes one parsed unit of a MODE command application.
type ModeDelta struct {
	Add     bool
	Letter  byte
	Param   string
}

// ApplyChannelMode parses a MODE command's mode-string + params against the
// server's advertised CHANMODES/PREFIX and applies membership-prefix or
// channel-mode changes, returning the parsed deltas for the
// CHANNEL_MODE_APPLIED event.
func (cs *ChannelSet) ApplyChannelMode(channelName, modeString string, params []string) []ModeDelta {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ch, ok := cs.channels[cs.canon(channelName)]
	if !ok {
		ch = newChannel(cs.canon(channelName), channelName)
		cs.channels[ch.Name] = ch
		cs.joinOrder = append(cs.joinOrder, ch.Name)
	}

	typeA := cs.features.ChanModes[0]
	typeB := cs.features.ChanModes[1]
	typeC := cs.features.ChanModes[2]

	var deltas []ModeDelta
	adding := true
	paramIdx := 0
	nextParam := func() string {
		if paramIdx < len(params) {
			p := params[paramIdx]
			paramIdx++
			return p
		}
		return ""
	}

	for _, r := range modeString {
		switch r {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}
		letter := byte(r)

		if modeLetter, isPrefix := prefixLetter(cs.features.Prefix, letter); isPrefix {
			nick := nextParam()
			key := cs.canon(nick)
			set := ch.Users[key]
			if set == nil {
				set = make(map[rune]bool)
				ch.Users[key] = set
			}
			prefixChar := modeLetterToPrefix(cs.features.Prefix, modeLetter)
			if adding {
				set[prefixChar] = true
			} else {
				delete(set, prefixChar)
			}
			deltas = append(deltas, ModeDelta{Add: adding, Letter: letter, Param: nick})
			continue
		}

		takesParam := strings.IndexByte(typeA, letter) >= 0 ||
			strings.IndexByte(typeB, letter) >= 0 ||
			(adding && strings.IndexByte(typeC, letter) >= 0)

		param := ""
		if takesParam {
			param = nextParam()
		}

		if strings.IndexByte(typeA, letter) >= 0 {
			// Type A (list modes, e.g. ban lists): not materialized as a
			// single scalar; recorded only in the emitted delta.
			deltas = append(deltas, ModeDelta{Add: adding, Letter: letter, Param: param})
			continue
		}

		if adding {
			ch.Modes[letter] = param
		} else {
			delete(ch.Modes, letter)
		}
		deltas = append(deltas, ModeDelta{Add: adding, Letter: letter, Param: param})
	}

	return deltas
}

func prefixLetter(prefix map[rune]rune, letter byte) (rune, bool) {
	for _, modeLetter := range prefix {
		if byte(modeLetter) == letter {
			return modeLetter, true
		}
	}
	return 0, false
}

func modeLetterToPrefix(prefix map[rune]rune, modeLetter rune) rune {
	for ch, ml := range prefix {
		if ml == modeLetter {
			return ch
		}
	}
	return 0
}
