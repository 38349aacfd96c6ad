package scenario

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how an expected string is compared.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchRegex MatchKind = "regex"
	MatchGlob  MatchKind = "glob"
)

// Match is an expected value for a title, URL or text assertion.
type Match struct {
	Kind  MatchKind
	Value string
}

// Exactly matches the whole string.
func Exactly(s string) Match {
	return Match{Kind: MatchExact, Value: s}
}

// Regex matches when the pattern is found anywhere in the string.
func Regex(pattern string) Match {
	return Match{Kind: MatchRegex, Value: pattern}
}

// Glob matches the whole string where * stands for any run of characters
// and ? for one character, e.g. "*writing-tests*".
func Glob(pattern string) Match {
	return Match{Kind: MatchGlob, Value: pattern}
}

// Matches reports whether s satisfies the expectation. An invalid pattern
// never matches; Validate catches it before a run.
func (m Match) Matches(s string) bool {
	switch m.Kind {
	case MatchExact:
		return s == m.Value
	case MatchRegex, MatchGlob:
		re, err := m.compile()
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

// Validate reports an empty or malformed expectation.
func (m Match) Validate() error {
	switch m.Kind {
	case MatchExact:
		return nil
	case MatchRegex, MatchGlob:
		if m.Value == "" {
			return fmt.Errorf("%s expectation is empty", m.Kind)
		}
		if _, err := m.compile(); err != nil {
			return fmt.Errorf("invalid %s %q: %w", m.Kind, m.Value, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown match kind %q", m.Kind)
	}
}

func (m Match) String() string {
	switch m.Kind {
	case MatchRegex:
		return "/" + m.Value + "/"
	default:
		return m.Value
	}
}

func (m Match) compile() (*regexp.Regexp, error) {
	if m.Kind == MatchGlob {
		return regexp.Compile(globToRegex(m.Value))
	}
	return regexp.Compile(m.Value)
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// NormalizeText drops zero-width spaces, collapses whitespace runs and trims,
// the way rendered text is compared in text assertions.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\u200b", "")
	return strings.Join(strings.Fields(s), " ")
}
