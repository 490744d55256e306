package normalize

import (
	"regexp"
	"strings"

	"github.com/walbarellos/Sentinela/pkg/common"
)

func onlyDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CPF parses a tax id into a full or partial document. Full CPFs must carry
// 11 digits with valid check digits; masked CPFs from the redacted disclosure
// regime ("***.456.789-**") yield the visible middle digits as a partial
// document. Trivial sequences (all same digit) are rejected.
func CPF(raw string) (common.Document, bool) {
	if raw == "" {
		return common.Document{}, false
	}

	digits := onlyDigits(raw)
	if strings.Contains(raw, "*") {
		if len(digits) == 6 {
			return common.Document{Kind: common.DocCPFPartial, Value: digits}, true
		}
		return common.Document{}, false
	}

	if len(digits) != 11 {
		return common.Document{}, false
	}
	if strings.Count(digits, string(digits[0])) == 11 {
		return common.Document{}, false
	}
	if !cpfCheckDigitsValid(digits) {
		return common.Document{}, false
	}
	return common.Document{Kind: common.DocCPF, Value: digits}, true
}

func cpfCheckDigitsValid(digits string) bool {
	dv := func(n int) int {
		total := 0
		for i := 0; i < n; i++ {
			total += int(digits[i]-'0') * (n + 1 - i)
		}
		rem := (total * 10) % 11
		if rem == 10 {
			return 0
		}
		return rem
	}
	return dv(9) == int(digits[9]-'0') && dv(10) == int(digits[10]-'0')
}

// PartialOfCPF reports whether a full CPF is consistent with a partial
// fragment: the fragment must equal the middle six digits the mask exposes.
func PartialOfCPF(full, partial string) bool {
	if len(full) != 11 || len(partial) != 6 {
		return false
	}
	return full[3:9] == partial
}

// MaskCPF renders a full CPF in the redacted-regime form used for excerpts.
// Partial fragments and anything unparseable come back fully masked.
func MaskCPF(raw string) string {
	digits := onlyDigits(raw)
	if len(digits) != 11 {
		return "***.***.***-**"
	}
	return "***." + digits[3:6] + "." + digits[6:9] + "-**"
}

// Bounded by non-digits so the 11-digit runs inside longer numbers, CNPJs
// included, do not trip it.
var fullCPFPattern = regexp.MustCompile(`(^|\D)\d{3}\.?\d{3}\.?\d{3}-?\d{2}(\D|$)`)

// LeaksCPF reports whether any excerpt field still carries a full CPF.
// Stores use it as the last gate before persisting an evidence row.
func LeaksCPF(excerpt map[string]string) bool {
	for _, v := range excerpt {
		if fullCPFPattern.MatchString(v) {
			return true
		}
	}
	return false
}

// CNPJ parses a company registry number: exactly 14 digits.
func CNPJ(raw string) (common.Document, bool) {
	digits := onlyDigits(raw)
	if len(digits) != 14 {
		return common.Document{}, false
	}
	return common.Document{Kind: common.DocCNPJ, Value: digits}, true
}

// Matricula parses a payroll enrollment id. Matrículas are portal-scoped, so
// the value is prefixed with the source to keep fragments from colliding
// across portals.
func Matricula(source, raw string) (common.Document, bool) {
	digits := onlyDigits(raw)
	if digits == "" {
		return common.Document{}, false
	}
	return common.Document{Kind: common.DocMatricula, Value: source + ":" + digits}, true
}
