package resolve

import "strings"

// nameTokens splits a canonical name, dropping the connective particles that
// Brazilian names carry ("DA", "DE", "DOS" ...) so token comparisons line up.
func nameTokens(name string) []string {
	fields := strings.Fields(name)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "DA", "DE", "DO", "DAS", "DOS", "E":
			continue
		}
		out = append(out, f)
	}
	return out
}

// abbreviationCompatible reports whether two names can denote the same person
// once abbreviation is accounted for: every token of the shorter name must
// match a token of the longer one, either exactly or as an initial
// ("J." vs "JOAO"). Order is respected so surnames keep anchoring the match.
func abbreviationCompatible(a, b string) bool {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	short, long := ta, tb
	if len(short) > len(long) {
		short, long = long, short
	}

	li := 0
	for _, s := range short {
		matched := false
		for ; li < len(long); li++ {
			if tokensCompatible(s, long[li]) {
				matched = true
				li++
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func tokensCompatible(a, b string) bool {
	a = strings.TrimSuffix(a, ".")
	b = strings.TrimSuffix(b, ".")
	if a == b {
		return true
	}
	// Single-letter initials match the token they abbreviate.
	if len(a) == 1 && strings.HasPrefix(b, a) {
		return true
	}
	if len(b) == 1 && strings.HasPrefix(a, b) {
		return true
	}
	return false
}

// surnameOf returns the last significant token of a name, or "".
func surnameOf(name string) string {
	t := nameTokens(name)
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}
