package loop

import "testing"

func TestDefaultQuotaPredicate(t *testing.T) {
	cases := []struct {
		output string
		want   bool
	}{
		{"normal worker output, all good", false},
		{"Error: usage limit reached for this session", true},
		{"You have exceeded your quota", true},
		{"429 rate limit exceeded, try again later", true},
		{"", false},
	}
	for _, c := range cases {
		if got := defaultQuotaPredicate(c.output); got != c.want {
			t.Errorf("defaultQuotaPredicate(%q) = %v, want %v", c.output, got, c.want)
		}
	}
}
