// Package naming maps C++ identifiers to Ada identifiers.
//
// Escaping is reversible: Unescape(Escape(s)) == s for every s. An escaped
// identifier is the marker "Esc_" followed by the source name with every
// byte outside [A-Za-wyzA-WYZ0-9] written as 'x' plus two lowercase hex
// digits. Because 'x', 'X' and '_' are always hex-escaped, the encoded tail
// never contains an underscore and decodes unambiguously.
package naming

import (
	"fmt"
	"strconv"
	"strings"
)

// Marker prefixes every escaped identifier.
const Marker = "Esc_"

var reserved = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		abort abs abstract accept access aliased all and array at
		begin body case constant declare delay delta digits do
		else elsif end entry exception exit for function generic goto
		if in interface is limited loop mod new not null of or others out overriding
		package pragma private procedure protected raise range record rem renames requeue
		return reverse select separate some subtype synchronized
		tagged task terminate then type until use when while with xor`) {
		reserved[w] = true
	}
}

// IsReserved reports whether s is an Ada 2012 reserved word. Ada is case
// insensitive, so "Type" and "TYPE" are reserved too.
func IsReserved(s string) bool {
	return reserved[strings.ToLower(s)]
}

// IsValidIdentifier reports whether s is a syntactically valid Ada
// identifier: an ASCII letter, then letters, digits and single underscores,
// not ending in an underscore.
func IsValidIdentifier(s string) bool {
	if s == "" || !isLetter(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case isLetter(c), isDigit(c):
		case c == '_':
			if s[i-1] == '_' || i == len(s)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// NeedsEscape reports whether s cannot be used verbatim as an Ada name.
func NeedsEscape(s string) bool {
	return !IsValidIdentifier(s) || IsReserved(s) || hasMarker(s)
}

func hasMarker(s string) bool {
	return len(s) >= len(Marker) && strings.EqualFold(s[:len(Marker)], Marker)
}

// Escape returns s unchanged when it is already a usable Ada identifier and
// the escaped form otherwise.
func Escape(s string) string {
	if !NeedsEscape(s) {
		return s
	}
	var b strings.Builder
	b.WriteString(Marker)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (isLetter(c) || isDigit(c)) && c != 'x' && c != 'X' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "x%02x", c)
	}
	return b.String()
}

// Unescape inverts Escape. Names without the marker are returned unchanged.
func Unescape(s string) (string, error) {
	if !strings.HasPrefix(s, Marker) {
		return s, nil
	}
	tail := s[len(Marker):]
	var b strings.Builder
	for i := 0; i < len(tail); i++ {
		c := tail[i]
		if c != 'x' {
			if c == 'X' || c == '_' || !(isLetter(c) || isDigit(c)) {
				return "", fmt.Errorf("unescape %q: unexpected %q at offset %d", s, c, len(Marker)+i)
			}
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(tail) {
			return "", fmt.Errorf("unescape %q: truncated escape at offset %d", s, len(Marker)+i)
		}
		v, err := strconv.ParseUint(tail[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("unescape %q: bad escape %q: %w", s, tail[i:i+3], err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
