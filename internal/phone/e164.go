// Package phone normalizes caller identities to E.164, a direct port of
// original_source/gateway/gateway/utils/phone.py's normalize_e164.
package phone

import "strings"

// NormalizeE164 strips everything but digits and a leading '+', then
// applies US-centric length-based prefixing when no '+' was present:
// 10 digits gets "+1"; 11 digits starting with '1' gets "+"; anything
// else just gets "+". Idempotent: NormalizeE164(NormalizeE164(x)) == NormalizeE164(x).
func NormalizeE164(raw string) string {
	var b strings.Builder
	hasPlus := false
	kept := 0
	for _, r := range raw {
		switch {
		case r == '+' && kept == 0:
			hasPlus = true
			kept++
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			kept++
		}
	}
	digits := b.String()
	if hasPlus {
		return "+" + digits
	}

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	default:
		return "+" + digits
	}
}
