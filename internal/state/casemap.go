package state

import "strings"

// CaseMapping is the server-advertised CASEMAPPING token from RPL_ISUPPORT,
// controlling how channel/nick casefolding behaves for storage and lookup.
type CaseMapping string

const (
	CaseMappingRFC1459 CaseMapping = "rfc1459"
	CaseMappingAscii   CaseMapping = "ascii"
)

// Canonicalize lowercases name per the given casemapping. rfc1459 folds
// {}|^ to []\~ in addition to ASCII case, matching the extra characters
// IRC nicks/channels may use.
func Canonicalize(name string, mapping CaseMapping) string {
	lower := strings.ToLower(name)
	if mapping != CaseMappingRFC1459 {
		return lower
	}
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch r {
		case '{':
			r = '['
		case '}':
			r = ']'
		case '|':
			r = '\\'
		case '^':
			r = '~'
		}
		b.WriteRune(r)
	}
	return b.String()
}
