package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces   = regexp.MustCompile(` +`)
	reNameKeep = regexp.MustCompile(`[^A-Z0-9 \-]`)
)

// Name canonicalizes a person or organization name: accents stripped,
// uppercased, punctuation removed, runs of spaces squashed.
func Name(raw string) string {
	if raw == "" {
		return ""
	}
	decomposed := norm.NFD.String(raw)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := reNameKeep.ReplaceAllString(strings.ToUpper(b.String()), "")
	return strings.TrimSpace(reSpaces.ReplaceAllString(clean, " "))
}

// Money parses Brazilian-formatted currency ("1.234.567,89") into a decimal.
// Null markers used by the portals parse to zero.
func Money(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "", "-", "#NULO#":
		return decimal.Zero, nil
	}
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else if i := strings.LastIndex(s, "."); i >= 0 {
		// No comma: a lone dot followed by one or two digits is a decimal
		// point, anything else is a thousands separator.
		if strings.Count(s, ".") > 1 || len(s)-i-1 > 2 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	var kept strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' || r == '-' {
			kept.WriteRune(r)
		}
	}
	d, err := decimal.NewFromString(kept.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", raw, err)
	}
	return d, nil
}

// Date parses the date formats seen across portal years: DD/MM/YYYY rows,
// MM/YYYY competência references and ISO timestamps from newer exports.
// Anything else goes through dateparse as a last resort.
func Date(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if t, err := time.Parse("02/01/2006", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("01/2006", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}
