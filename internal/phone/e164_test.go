package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeE164_Scenarios(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+1 (415) 555-0100", "+14155550100"},
		{"415-555-0100", "+14155550100"},
		{"14155550100", "+14155550100"},
		{"+14155550100", "+14155550100"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeE164(c.in), "input %q", c.in)
	}
}

func TestNormalizeE164_LeadingPlusAfterStrippedChars(t *testing.T) {
	cases := []struct{ in, want string }{
		{" +14155550100", "+14155550100"},
		{"(+1) 415-555-0100", "+14155550100"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeE164(c.in), "input %q", c.in)
	}
}

func TestNormalizeE164_Idempotent(t *testing.T) {
	inputs := []string{"+1 (415) 555-0100", "415-555-0100", "14155550100", "+14155550100", "5551234567"}
	for _, in := range inputs {
		once := NormalizeE164(in)
		twice := NormalizeE164(once)
		assert.Equal(t, once, twice, "input %q", in)
	}
}
