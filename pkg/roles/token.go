// Package roles turns free-form setup text into role bindings: it scans
// {ROLE:...} markers, resolves them against a guild's roles and assigns
// reaction emojis from a fixed palette.
package roles

import (
	"strings"
	"unicode/utf8"
)

// RefKind says how a reference names its role.
type RefKind int

const (
	ByID RefKind = iota
	ByName
)

func (k RefKind) String() string {
	if k == ByID {
		return "id"
	}
	return "name"
}

// Reference is one parsed {ROLE:...} marker.
type Reference struct {
	Kind  RefKind
	Value string
}

const (
	markerPrefix   = "{ROLE:"
	markerEnd      = '}'
	maxIdentLength = 32
)

// ParseTokens scans text left to right and returns every well-formed role
// marker in order, duplicates included. Malformed markers are skipped; an
// empty result means the text is not a setup message.
func ParseTokens(text string) []Reference {
	var refs []Reference
	i := 0
	for i < len(text) {
		start := indexFold(text[i:], markerPrefix)
		if start < 0 {
			break
		}
		identStart := i + start + len(markerPrefix)
		j := identStart
		closed := false
		for j < len(text) {
			c := text[j]
			if c == markerEnd {
				closed = true
				break
			}
			if c == '{' {
				break
			}
			j++
		}
		if !closed {
			if j >= len(text) {
				break
			}
			// A '{' inside the identifier may start the next marker.
			i = j
			continue
		}
		if ref, ok := classify(text[identStart:j]); ok {
			refs = append(refs, ref)
		}
		i = j + 1
	}
	return refs
}

// ParseReference classifies a bare identifier, as used by commands that take
// role arguments outside of markers. It accepts the same forms as a marker.
func ParseReference(raw string) (Reference, bool) {
	return classify(raw)
}

func classify(raw string) (Reference, bool) {
	ident := strings.TrimSpace(raw)
	if ident == "" || utf8.RuneCountInString(ident) > maxIdentLength {
		return Reference{}, false
	}
	if id, ok := roleMention(ident); ok {
		return Reference{Kind: ByID, Value: id}, true
	}
	if isDigits(ident) {
		return Reference{Kind: ByID, Value: ident}, true
	}
	return Reference{Kind: ByName, Value: ident}, true
}

// roleMention unwraps a platform role mention of the form <@&123>.
func roleMention(s string) (string, bool) {
	if !strings.HasPrefix(s, "<@&") || !strings.HasSuffix(s, ">") {
		return "", false
	}
	id := s[3 : len(s)-1]
	if !isDigits(id) {
		return "", false
	}
	return id, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// indexFold is strings.Index with an ASCII case-insensitive needle.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
