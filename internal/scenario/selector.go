package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// Strategy is how a selector finds elements on the page.
type Strategy string

const (
	ByRole        Strategy = "role"
	ByCSS         Strategy = "css"
	ByID          Strategy = "id"
	ByText        Strategy = "text"
	ByXPath       Strategy = "xpath"
	ByPlaceholder Strategy = "placeholder"
)

var strategies = []Strategy{ByRole, ByCSS, ByID, ByText, ByXPath, ByPlaceholder}

// OrdinalKind picks one element out of several matches.
type OrdinalKind int

const (
	OrdinalNone OrdinalKind = iota
	OrdinalFirst
	OrdinalLast
	OrdinalNth
)

// Ordinal is an explicit pick among multiple matches. OrdinalNone means the
// selector must match at most one element.
type Ordinal struct {
	Kind  OrdinalKind
	Index int // zero-based, only for OrdinalNth
}

// Selector locates elements. For ByRole, Value is the ARIA role and Name the
// accessible name; Exact turns substring name/text matching into full-string
// matching.
type Selector struct {
	Strategy Strategy
	Value    string
	Name     string
	Exact    bool
	Ordinal  Ordinal
}

// Role selects by ARIA role and accessible name (substring, case-insensitive).
func Role(role, name string) Selector {
	return Selector{Strategy: ByRole, Value: role, Name: name}
}

// RoleExact selects by ARIA role and an exactly matching accessible name.
func RoleExact(role, name string) Selector {
	return Selector{Strategy: ByRole, Value: role, Name: name, Exact: true}
}

// CSS selects by CSS selector.
func CSS(css string) Selector {
	return Selector{Strategy: ByCSS, Value: css}
}

// ID selects the element with the given id attribute.
func ID(id string) Selector {
	return Selector{Strategy: ByID, Value: strings.TrimPrefix(id, "#")}
}

// Text selects by visible text (substring, case-insensitive).
func Text(text string) Selector {
	return Selector{Strategy: ByText, Value: text}
}

// XPath selects by XPath expression.
func XPath(expr string) Selector {
	return Selector{Strategy: ByXPath, Value: expr}
}

// Placeholder selects an input by its placeholder text.
func Placeholder(text string) Selector {
	return Selector{Strategy: ByPlaceholder, Value: text}
}

// First picks the first of several matches.
func (s Selector) First() Selector {
	s.Ordinal = Ordinal{Kind: OrdinalFirst}
	return s
}

// Last picks the last of several matches.
func (s Selector) Last() Selector {
	s.Ordinal = Ordinal{Kind: OrdinalLast}
	return s
}

// Nth picks the i-th (zero-based) of several matches.
func (s Selector) Nth(i int) Selector {
	s.Ordinal = Ordinal{Kind: OrdinalNth, Index: i}
	return s
}

// HasOrdinal reports whether the author picked an explicit match.
func (s Selector) HasOrdinal() bool {
	return s.Ordinal.Kind != OrdinalNone
}

// Unqualified returns the selector without its ordinal.
func (s Selector) Unqualified() Selector {
	s.Ordinal = Ordinal{}
	return s
}

// Key identifies the element set a selector matches, ignoring the ordinal.
func (s Selector) Key() string {
	return s.Unqualified().String()
}

func (s Selector) String() string {
	var b strings.Builder
	b.WriteString(string(s.Strategy))
	b.WriteByte('=')
	switch s.Strategy {
	case ByRole:
		b.WriteString(s.Value)
		if s.Name != "" {
			fmt.Fprintf(&b, "[name=%q", s.Name)
			if s.Exact {
				b.WriteString(" exact")
			}
			b.WriteByte(']')
		}
	default:
		b.WriteString(s.Value)
		if s.Exact {
			b.WriteString(" exact")
		}
	}
	switch s.Ordinal.Kind {
	case OrdinalFirst:
		b.WriteString(" >> first")
	case OrdinalLast:
		b.WriteString(" >> last")
	case OrdinalNth:
		b.WriteString(" >> nth=" + strconv.Itoa(s.Ordinal.Index))
	}
	return b.String()
}

// Validate reports authoring mistakes in the selector itself.
func (s Selector) Validate() error {
	known := false
	for _, st := range strategies {
		if st == s.Strategy {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown selector strategy %q", s.Strategy)
	}
	if strings.TrimSpace(s.Value) == "" {
		return fmt.Errorf("%s selector has an empty value", s.Strategy)
	}
	if s.Strategy == ByXPath && !strings.HasPrefix(strings.TrimSpace(s.Value), "/") && !strings.HasPrefix(strings.TrimSpace(s.Value), "(") {
		return fmt.Errorf("xpath selector %q must start with / or (", s.Value)
	}
	if s.Ordinal.Kind == OrdinalNth && s.Ordinal.Index < 0 {
		return fmt.Errorf("selector %s has a negative nth index", s)
	}
	return nil
}
