package guard

import "testing"

func TestPunctuatedTerms(t *testing.T) {
	lx := newLexicon(nil, []string{"@admin", "c++", "secret!"})
	cases := []struct {
		text string
		term string
	}{
		{"ping @admin now", "@admin"},
		{"I write C++ daily", "C++"},
		{"the secret! is out", "secret!"},
		{"@admin", "@admin"},
	}
	for _, tc := range cases {
		ms := lx.scan(tc.text)
		if len(ms) != 1 || ms[0].Term != tc.term || ms[0].Category != CategoryCustom {
			t.Fatalf("%q: matches=%+v", tc.text, ms)
		}
		if got := tc.text[ms[0].Start:ms[0].End]; got != tc.term {
			t.Fatalf("%q: span %q", tc.text, got)
		}
	}
	// word edges still need a boundary
	for _, text := range []string{"abc++ compiler", "topsecret! file", "admins only"} {
		if ms := lx.scan(text); len(ms) != 0 {
			t.Fatalf("%q: unexpected matches %+v", text, ms)
		}
	}
}
