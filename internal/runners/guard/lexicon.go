package guard

import (
	"regexp"
	"slices"
	"strings"
)

// Built-in categories.
const (
	CategoryViolence  = "violence"
	CategorySelfHarm  = "self_harm"
	CategoryWeapons   = "weapons"
	CategoryHarass    = "harassment"
	CategoryProfanity = "profanity"
	CategoryCustom    = "custom"
)

var builtinTerms = map[string][]string{
	CategoryViolence:  {"kill you", "beat you up", "murder", "massacre", "slaughter"},
	CategorySelfHarm:  {"kill myself", "suicide", "self-harm", "cut myself", "end my life"},
	CategoryWeapons:   {"build a bomb", "make a bomb", "pipe bomb", "nerve agent", "ghost gun"},
	CategoryHarass:    {"worthless idiot", "nobody likes you", "go away loser", "you are pathetic"},
	CategoryProfanity: {"damn", "crap", "bloody hell", "screw you"},
}

// Categories lists the built-in categories in display order.
func Categories() []string {
	return []string{CategoryViolence, CategorySelfHarm, CategoryWeapons, CategoryHarass, CategoryProfanity}
}

// Match is one lexicon hit in the checked text.
type Match struct {
	Term     string `json:"term"`
	Category string `json:"category"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

type rule struct {
	category string
	re       *regexp.Regexp
}

// lexicon matches whole words and phrases case-insensitively.
type lexicon struct {
	rules []rule
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// termPattern anchors t at word boundaries on the edges where it starts or
// ends with a word character. A punctuation edge is its own boundary.
func termPattern(t string) string {
	// spaces inside a phrase match any run of whitespace
	p := strings.Join(strings.Fields(regexp.QuoteMeta(t)), `\s+`)
	if isWordByte(t[0]) {
		p = `\b` + p
	}
	if isWordByte(t[len(t)-1]) {
		p += `\b`
	}
	return p
}

func phrasePattern(terms []string) string {
	var kept []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	// longest first so phrases win over their prefixes
	slices.SortStableFunc(kept, func(a, b string) int { return len(b) - len(a) })
	quoted := make([]string, len(kept))
	for i, t := range kept {
		quoted[i] = termPattern(t)
	}
	return `(?i)(?:` + strings.Join(quoted, "|") + `)`
}

func newLexicon(categories []string, custom []string) *lexicon {
	lx := &lexicon{}
	for _, c := range categories {
		if p := phrasePattern(builtinTerms[c]); p != "" {
			lx.rules = append(lx.rules, rule{category: c, re: regexp.MustCompile(p)})
		}
	}
	if p := phrasePattern(custom); p != "" {
		lx.rules = append(lx.rules, rule{category: CategoryCustom, re: regexp.MustCompile(p)})
	}
	return lx
}

// scan returns every hit ordered by position.
func (lx *lexicon) scan(text string) []Match {
	var out []Match
	for _, r := range lx.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			out = append(out, Match{Term: text[loc[0]:loc[1]], Category: r.category, Start: loc[0], End: loc[1]})
		}
	}
	slices.SortStableFunc(out, func(a, b Match) int { return a.Start - b.Start })
	return out
}

// redact masks every hit with asterisks. Overlapping hits are merged.
func redact(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	pos := 0
	for _, m := range matches {
		if m.End <= pos {
			continue
		}
		start := max(m.Start, pos)
		b.WriteString(text[pos:start])
		b.WriteString(strings.Repeat("*", len([]rune(text[start:m.End]))))
		pos = m.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
